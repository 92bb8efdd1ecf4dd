package portalauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/portalauth/authz"
	"github.com/MrEthical07/portalauth/challenge"
	"github.com/MrEthical07/portalauth/delivery"
	"github.com/MrEthical07/portalauth/directory"
	"github.com/MrEthical07/portalauth/internal/clock"
)

var testEpoch = time.Date(2026, time.September, 1, 8, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu   sync.Mutex
	msgs []delivery.Message
	fail error
}

func (s *recordingSender) Deliver(_ context.Context, msg delivery.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSender) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

func (s *recordingSender) last(t *testing.T) delivery.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		t.Fatal("no message delivered")
	}
	return s.msgs[len(s.msgs)-1]
}

type testEnv struct {
	engine *Engine
	dir    *directory.Memory
	sender *recordingSender
	clock  *clock.FakeClock

	mu   sync.Mutex
	code string
}

func (env *testEnv) setCode(code string) {
	env.mu.Lock()
	env.code = code
	env.mu.Unlock()
}

func (env *testEnv) nextCode(int) (string, error) {
	env.mu.Lock()
	defer env.mu.Unlock()
	return env.code, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Session.SweepInterval = 0
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, mutate func(*Config), extra ...func(*Builder)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		dir:    directory.NewMemory(),
		sender: &recordingSender{},
		clock:  clock.Fake(testEpoch),
		code:   "123456",
	}

	b := New().
		WithConfig(cfg).
		WithDirectory(env.dir).
		WithDelivery(env.sender).
		WithClock(env.clock).
		WithCodeGenerator(env.nextCode).
		WithLogger(discardLogger())
	for _, fn := range extra {
		fn(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func studentRequest(username, email, group string) RegisterRequest {
	return RegisterRequest{
		Username:    username,
		Password:    "secret1",
		DisplayName: "Test Student",
		Role:        authz.RoleStudent,
		Profile: Profile{
			Email: email,
			Group: group,
		},
	}
}

// registerVerified registers req and completes verification through its
// email, returning the session token Verify issued.
func (env *testEnv) registerVerified(t *testing.T, req RegisterRequest) (UserAccount, string) {
	t.Helper()
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, req); err != nil {
		t.Fatalf("Register: %v", err)
	}
	id := req.Profile.Email
	if id == "" {
		id = req.Profile.Phone
	}
	if _, err := env.engine.IssueChallenge(ctx, id, "", ""); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	code := env.sender.last(t).Code
	res, err := env.engine.Verify(ctx, id, code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Outcome != challenge.Success {
		t.Fatalf("expected success, got %v", res.Outcome)
	}
	return res.Account, res.Token
}

func TestRegistrationEndToEnd(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	acc, err := env.engine.Register(ctx, studentRequest("alice", "A@X.com", "IVT-21"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if acc.Verified {
		t.Fatal("new account must be pending")
	}
	if acc.Email != "a@x.com" {
		t.Fatalf("email not normalized: %q", acc.Email)
	}
	if acc.Course != 1 {
		t.Fatalf("expected default course 1, got %d", acc.Course)
	}

	receipt, err := env.engine.IssueChallenge(ctx, "a@x.com", "", authz.RoleStudent)
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if receipt.Channel != delivery.ChannelEmail || receipt.Remaining != 3 {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
	if !receipt.ExpiresAt.Equal(testEpoch.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", receipt.ExpiresAt)
	}
	msg := env.sender.last(t)
	if msg.Code != "123456" || msg.Identifier != "a@x.com" || msg.Purpose != string(challenge.PurposeVerify) {
		t.Fatalf("unexpected message: %+v", msg)
	}

	res, err := env.engine.Verify(ctx, "a@x.com", "000000")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Outcome != challenge.CodeMismatch || res.Remaining != 2 {
		t.Fatalf("expected mismatch with 2 left, got %v/%d", res.Outcome, res.Remaining)
	}
	if res.Token != "" {
		t.Fatal("mismatch must not issue a token")
	}

	res, err = env.engine.Verify(ctx, "A@x.com", "123456")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Outcome != challenge.Success || res.Token == "" {
		t.Fatalf("expected success with token, got %+v", res)
	}
	if !res.Account.Verified {
		t.Fatal("result account should be verified")
	}

	stored, err := env.dir.FindByID(ctx, acc.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if !stored.Verified {
		t.Fatal("stored account should be verified")
	}

	actor, err := env.engine.Authenticate(ctx, res.Token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if actor.UserID != acc.ID || actor.Role != authz.RoleStudent || actor.Group != "IVT-21" {
		t.Fatalf("unexpected actor: %+v", actor)
	}

	if _, ok, _ := env.engine.ChallengeStatus(ctx, "a@x.com"); ok {
		t.Fatal("challenge should be consumed")
	}

	login, err := env.engine.Login(ctx, "alice", "secret1", authz.RoleStudent)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if login.Token == res.Token {
		t.Fatal("login must mint a fresh token")
	}
}

func TestRegisterRejectsInvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RegisterRequest)
		want   error
	}{
		{"empty username", func(r *RegisterRequest) { r.Username = "  " }, ErrInvalidRequest},
		{"username with at", func(r *RegisterRequest) { r.Username = "a@b" }, ErrInvalidRequest},
		{"username with space", func(r *RegisterRequest) { r.Username = "a b" }, ErrInvalidRequest},
		{"username shaped like phone", func(r *RegisterRequest) { r.Username = "89001234567" }, ErrInvalidRequest},
		{"short password", func(r *RegisterRequest) { r.Password = "abc" }, ErrPasswordPolicy},
		{"unknown role", func(r *RegisterRequest) { r.Role = "dean" }, ErrInvalidRequest},
		{"administrator self registration", func(r *RegisterRequest) { r.Role = authz.RoleAdministrator }, ErrInvalidRequest},
		{"student without group", func(r *RegisterRequest) { r.Profile.Group = "" }, ErrInvalidRequest},
		{"course out of range", func(r *RegisterRequest) { r.Profile.Course = 7 }, ErrInvalidRequest},
		{"no contact", func(r *RegisterRequest) { r.Profile.Email = "" }, ErrInvalidRequest},
		{"malformed email", func(r *RegisterRequest) { r.Profile.Email = "x@" }, ErrInvalidRequest},
		{"malformed phone", func(r *RegisterRequest) { r.Profile.Phone = "12ab" }, ErrInvalidRequest},
		{
			"teacher choosing curator group",
			func(r *RegisterRequest) {
				r.Role = authz.RoleTeacher
				r.Profile.CuratorGroup = "IVT-21"
			},
			ErrInvalidRequest,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			req := studentRequest("bob", "bob@x.com", "IVT-21")
			tc.mutate(&req)

			_, err := env.engine.Register(context.Background(), req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if env.dir.Len() != 0 {
				t.Fatalf("rejected request created %d accounts", env.dir.Len())
			}
		})
	}
}

func TestRegisterPasswordLengthCountsRunes(t *testing.T) {
	env := newTestEnv(t, nil)
	req := studentRequest("bob", "bob@x.com", "IVT-21")
	req.Password = "пароль"

	if _, err := env.engine.Register(context.Background(), req); err != nil {
		t.Fatalf("six-rune password should pass: %v", err)
	}
}

func TestRegisterDuplicateCreatesNothing(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.engine.Register(ctx, studentRequest("alice", "a@x.com", "IVT-21")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name  string
		req   RegisterRequest
		field string
	}{
		{"same username", studentRequest("alice", "other@x.com", "IVT-21"), "username"},
		{"same email", studentRequest("alice2", "A@x.com", "IVT-22"), "email"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.Register(ctx, tc.req)
			if !errors.Is(err, ErrDuplicateIdentifier) {
				t.Fatalf("expected ErrDuplicateIdentifier, got %v", err)
			}
			if got := err.Error(); got != ErrDuplicateIdentifier.Error()+": "+tc.field {
				t.Fatalf("unexpected error text %q", got)
			}
		})
	}

	if env.dir.Len() != 1 {
		t.Fatalf("expected 1 account, got %d", env.dir.Len())
	}
	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricRegisterDuplicate] != 2 {
		t.Fatalf("expected 2 duplicate metrics, got %d", snap.Counters[MetricRegisterDuplicate])
	}
}

func TestRegisterPhoneSpellingsCollide(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	first := studentRequest("u1", "", "IVT-21")
	first.Profile.Phone = "+79991234567"
	acc, err := env.engine.Register(ctx, first)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if acc.Phone != "+79991234567" {
		t.Fatalf("expected canonical phone, got %q", acc.Phone)
	}

	second := studentRequest("u2", "", "IVT-21")
	second.Profile.Phone = "+7 (999) 123-45-67"
	_, err = env.engine.Register(ctx, second)
	if !errors.Is(err, ErrDuplicateIdentifier) || err.Error() != ErrDuplicateIdentifier.Error()+": phone" {
		t.Fatalf("expected duplicate phone, got %v", err)
	}
	if env.dir.Len() != 1 {
		t.Fatalf("expected 1 account, got %d", env.dir.Len())
	}

	receipt, err := env.engine.IssueChallenge(ctx, " +7 999 123 45 67 ", "", "")
	if err != nil {
		t.Fatalf("IssueChallenge by another spelling: %v", err)
	}
	if receipt.Identifier != "+79991234567" || receipt.Channel != delivery.ChannelSMS {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	code := env.sender.last(t).Code
	res, err := env.engine.Verify(ctx, "+7-999-123-45-67", code)
	if err != nil || res.Outcome != challenge.Success {
		t.Fatalf("Verify by another spelling: %+v %v", res, err)
	}
}

func TestIssueChallengeErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	req := studentRequest("alice", "a@x.com", "IVT-21")
	req.Profile.Phone = "+7 900 123-45-67"
	if _, err := env.engine.Register(ctx, req); err != nil {
		t.Fatalf("Register: %v", err)
	}
	env.registerVerified(t, studentRequest("carol", "c@x.com", "IVT-21"))
	sent := env.sender.count()

	tests := []struct {
		name       string
		identifier string
		channel    delivery.Channel
		role       authz.Role
		want       error
	}{
		{"empty identifier", "", "", "", ErrInvalidRequest},
		{"unknown email", "nobody@x.com", "", "", ErrUserNotFound},
		{"username", "alice", "", "", ErrIdentifierNotDeliverable},
		{"channel mismatch", "a@x.com", delivery.ChannelSMS, "", ErrChannelMismatch},
		{"role mismatch", "a@x.com", "", authz.RoleTeacher, ErrRoleMismatch},
		{"already verified", "c@x.com", "", "", ErrAlreadyVerified},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.IssueChallenge(ctx, tc.identifier, tc.channel, tc.role)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if env.sender.count() != sent {
		t.Fatal("failed issues must not deliver")
	}

	receipt, err := env.engine.IssueChallenge(ctx, "+7 900 123-45-67", delivery.ChannelSMS, "")
	if err != nil {
		t.Fatalf("IssueChallenge by phone: %v", err)
	}
	if receipt.Channel != delivery.ChannelSMS {
		t.Fatalf("expected sms, got %q", receipt.Channel)
	}
}

func TestIssueChallengeReplacesPrevious(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, studentRequest("alice", "a@x.com", "IVT-21")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	env.setCode("111111")
	if _, err := env.engine.IssueChallenge(ctx, "a@x.com", "", ""); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if res, _ := env.engine.Verify(ctx, "a@x.com", "000000"); res.Remaining != 2 {
		t.Fatalf("expected 2 remaining, got %d", res.Remaining)
	}

	env.setCode("222222")
	receipt, err := env.engine.IssueChallenge(ctx, "a@x.com", "", "")
	if err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	if receipt.Remaining != 3 {
		t.Fatalf("reissue should restore attempts, got %d", receipt.Remaining)
	}

	res, err := env.engine.Verify(ctx, "a@x.com", "111111")
	if err != nil || res.Outcome != challenge.CodeMismatch {
		t.Fatalf("old code must not verify: %v %v", res.Outcome, err)
	}
	res, err = env.engine.Verify(ctx, "a@x.com", "222222")
	if err != nil || res.Outcome != challenge.Success {
		t.Fatalf("new code should verify: %v %v", res.Outcome, err)
	}
}

func TestIssueChallengeDeliveryFailureKeepsChallenge(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, studentRequest("alice", "a@x.com", "IVT-21")); err != nil {
		t.Fatalf("Register: %v", err)
	}

	env.sender.setFail(errors.New("smtp down"))
	receipt, err := env.engine.IssueChallenge(ctx, "a@x.com", "", "")
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("expected ErrDeliveryFailed, got %v", err)
	}
	if receipt.Remaining != 3 {
		t.Fatalf("receipt should describe the stored challenge: %+v", receipt)
	}

	status, ok, err := env.engine.ChallengeStatus(ctx, "a@x.com")
	if err != nil || !ok {
		t.Fatalf("challenge should be stored: ok=%v err=%v", ok, err)
	}
	if status.Remaining != 3 {
		t.Fatalf("unexpected status: %+v", status)
	}

	res, err := env.engine.Verify(ctx, "a@x.com", "123456")
	if err != nil || res.Outcome != challenge.Success {
		t.Fatalf("stored code should verify: %v %v", res.Outcome, err)
	}

	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricChallengeDeliveryFailed] != 1 {
		t.Fatalf("expected delivery failure metric, got %d", snap.Counters[MetricChallengeDeliveryFailed])
	}
}

func TestVerifyExhaustsAttempts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	acc, err := env.engine.Register(ctx, studentRequest("alice", "a@x.com", "IVT-21"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := env.engine.IssueChallenge(ctx, "a@x.com", "", ""); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}

	want := []struct {
		outcome   challenge.Outcome
		remaining int
	}{
		{challenge.CodeMismatch, 2},
		{challenge.CodeMismatch, 1},
		{challenge.AttemptsExhausted, 0},
	}
	for i, w := range want {
		res, err := env.engine.Verify(ctx, "a@x.com", "999999")
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if res.Outcome != w.outcome || res.Remaining != w.remaining {
			t.Fatalf("attempt %d: expected %v/%d, got %v/%d", i+1, w.outcome, w.remaining, res.Outcome, res.Remaining)
		}
	}

	res, err := env.engine.Verify(ctx, "a@x.com", "123456")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Outcome != challenge.NotFound {
		t.Fatalf("exhausted challenge must be gone, got %v", res.Outcome)
	}

	stored, _ := env.dir.FindByID(ctx, acc.ID)
	if stored.Verified {
		t.Fatal("account must stay pending")
	}
}

func TestVerifyLastAttemptStillCompared(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, studentRequest("alice", "a@x.com", "IVT-21")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := env.engine.IssueChallenge(ctx, "a@x.com", "", ""); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}
	env.engine.Verify(ctx, "a@x.com", "000000")
	env.engine.Verify(ctx, "a@x.com", "000000")

	res, err := env.engine.Verify(ctx, "a@x.com", "123456")
	if err != nil || res.Outcome != challenge.Success {
		t.Fatalf("correct code on last attempt should verify: %v %v", res.Outcome, err)
	}
}

func TestVerifyExpiry(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, studentRequest("alice", "a@x.com", "IVT-21")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := env.engine.IssueChallenge(ctx, "a@x.com", "", ""); err != nil {
		t.Fatalf("IssueChallenge: %v", err)
	}

	env.clock.Advance(10*time.Minute + time.Millisecond)
	res, err := env.engine.Verify(ctx, "a@x.com", "123456")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Outcome != challenge.Expired {
		t.Fatalf("expected Expired, got %v", res.Outcome)
	}
	res, _ = env.engine.Verify(ctx, "a@x.com", "123456")
	if res.Outcome != challenge.NotFound {
		t.Fatalf("expired challenge must be removed, got %v", res.Outcome)
	}
}

func TestVerifyWithoutChallenge(t *testing.T) {
	env := newTestEnv(t, nil)
	res, err := env.engine.Verify(context.Background(), "ghost@x.com", "123456")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Outcome != challenge.NotFound {
		t.Fatalf("expected NotFound, got %v", res.Outcome)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	acc, token := env.registerVerified(t, studentRequest("alice", "a@x.com", "IVT-21"))

	if err := env.engine.Logout(ctx, token); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if err := env.engine.Logout(ctx, token); err != nil {
		t.Fatalf("second Logout should be a no-op: %v", err)
	}

	first, err := env.engine.Login(ctx, "alice", "secret1", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	second, err := env.engine.Login(ctx, "a@x.com", "secret1", "")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := env.engine.LogoutAll(ctx, acc.ID); err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	for _, tok := range []string{first.Token, second.Token} {
		if _, err := env.engine.Authenticate(ctx, tok); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated after LogoutAll, got %v", err)
		}
	}
}

func TestEngineNotReady(t *testing.T) {
	var e *Engine
	ctx := context.Background()

	if _, err := e.Register(ctx, RegisterRequest{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.Login(ctx, "a", "b", ""); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.Authenticate(ctx, "t"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	e.Close()
	if e.AuditDropped() != 0 {
		t.Fatal("nil engine should report zero drops")
	}
}
