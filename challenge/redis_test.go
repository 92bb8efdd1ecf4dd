package challenge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/delivery"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb, "test"), mr
}

func TestRecordRoundTripPreservesFields(t *testing.T) {
	in := Challenge{
		Identifier: "a@x.com",
		Role:       authz.RoleClassRepresentative,
		Channel:    delivery.ChannelEmail,
		Purpose:    PurposeReset,
		IssuedAt:   time.UnixMilli(1_700_000_000_123),
		ExpiresAt:  time.UnixMilli(1_700_000_600_123),
		Remaining:  3,
	}
	in.CodeHash[0] = 0xAB
	in.CodeHash[31] = 0xCD

	data, err := encodeRecord(in)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out, err := decodeRecord("a@x.com", data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out.Role != in.Role || out.Channel != in.Channel || out.Purpose != in.Purpose ||
		out.Remaining != in.Remaining || out.CodeHash != in.CodeHash ||
		!out.IssuedAt.Equal(in.IssuedAt) || !out.ExpiresAt.Equal(in.ExpiresAt) {
		t.Fatalf("round trip mismatch\n in=%+v\nout=%+v", in, out)
	}
}

func TestDecodeRecordRejectsGarbage(t *testing.T) {
	for _, data := range [][]byte{nil, {2}, {1, 0, 3}} {
		if _, err := decodeRecord("x", data); err == nil {
			t.Fatalf("expected decode of %v to fail", data)
		}
	}
}

func TestRedisStoreAttemptSequence(t *testing.T) {
	store, _ := newRedisStore(t)
	m, _ := newTestManager(t, store, &recordingSender{}, WithCodeGenerator(fixedCode("123456")))
	ctx := context.Background()

	if _, err := m.Issue(ctx, IssueRequest{Identifier: "a@x.com", Role: authz.RoleTeacher, Purpose: PurposeVerify}); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	res, err := m.Validate(ctx, "a@x.com", "000000", PurposeVerify)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Outcome != CodeMismatch || res.Remaining != 2 {
		t.Fatalf("expected mismatch with 2 left, got %+v", res)
	}

	c, ok, err := store.Get(ctx, "a@x.com")
	if err != nil || !ok {
		t.Fatalf("expected stored challenge, ok=%v err=%v", ok, err)
	}
	if c.Remaining != 2 || c.Role != authz.RoleTeacher {
		t.Fatalf("unexpected stored challenge %+v", c)
	}

	res, err = m.Validate(ctx, "a@x.com", "123456", PurposeVerify)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if res.Outcome != Success || res.Role != authz.RoleTeacher {
		t.Fatalf("expected success, got %+v", res)
	}
	if _, ok, _ := store.Get(ctx, "a@x.com"); ok {
		t.Fatalf("expected challenge removed after success")
	}
}

func TestRedisStoreExhaustion(t *testing.T) {
	store, _ := newRedisStore(t)
	m, _ := newTestManager(t, store, &recordingSender{}, WithCodeGenerator(fixedCode("123456")))
	ctx := context.Background()
	m.Issue(ctx, verifyRequest("a@x.com"))

	for i, want := range []Outcome{CodeMismatch, CodeMismatch, AttemptsExhausted, NotFound} {
		res, err := m.Validate(ctx, "a@x.com", "999999", PurposeVerify)
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if res.Outcome != want {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, want, res.Outcome)
		}
	}
}

func TestRedisStoreExpiredAndPurpose(t *testing.T) {
	store, _ := newRedisStore(t)
	m, clk := newTestManager(t, store, &recordingSender{}, WithCodeGenerator(fixedCode("123456")))
	ctx := context.Background()
	m.Issue(ctx, IssueRequest{Identifier: "a@x.com", Role: authz.RoleStudent, Purpose: PurposeReset})

	if res, _ := m.Validate(ctx, "a@x.com", "123456", PurposeVerify); res.Outcome != NotFound {
		t.Fatalf("expected not found for other purpose, got %v", res.Outcome)
	}
	c, _, _ := store.Get(ctx, "a@x.com")
	if c.Remaining != 3 {
		t.Fatalf("expected purpose mismatch to cost nothing, got %d", c.Remaining)
	}

	clk.Advance(10*time.Minute + time.Second)
	if res, _ := m.Validate(ctx, "a@x.com", "123456", PurposeReset); res.Outcome != Expired {
		t.Fatalf("expected expired, got %v", res.Outcome)
	}
	if _, ok, _ := store.Get(ctx, "a@x.com"); ok {
		t.Fatalf("expected expired challenge deleted")
	}
}

func TestRedisStoreTTLIncludesGrace(t *testing.T) {
	store, mr := newRedisStore(t)
	m, _ := newTestManager(t, store, &recordingSender{})
	ctx := context.Background()
	m.Issue(ctx, verifyRequest("a@x.com"))

	ttl := mr.TTL("test:a@x.com")
	if ttl != 10*time.Minute+expiredGrace {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	// A mismatch rewrites the record and must keep the expiry.
	m.Validate(ctx, "a@x.com", "000000", PurposeVerify)
	if mr.TTL("test:a@x.com") <= 0 {
		t.Fatalf("expected ttl to survive a mismatch")
	}
}

func TestRedisStoreConcurrentSingleSuccess(t *testing.T) {
	store, _ := newRedisStore(t)
	m, _ := newTestManager(t, store, &recordingSender{}, WithCodeGenerator(fixedCode("123456")))
	ctx := context.Background()
	m.Issue(ctx, verifyRequest("a@x.com"))

	const workers = 8
	results := make([]Outcome, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := m.Validate(ctx, "a@x.com", "123456", PurposeVerify)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			results[i] = res.Outcome
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, o := range results {
		if o == Success {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one success, got %d (%v)", successes, results)
	}
}

func TestRedisStoreUnavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()
	_, err := store.Attempt(context.Background(), "a@x.com", [32]byte{}, PurposeVerify, time.Now())
	if err == nil {
		t.Fatalf("expected error when redis is down")
	}
}
