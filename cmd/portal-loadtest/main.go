// Command portal-loadtest measures session validation and challenge
// round trips against the Redis stores.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/portalauth/challenge"
	"github.com/MrEthical07/portalauth/delivery"
	"github.com/MrEthical07/portalauth/session"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
)

func main() {
	var (
		sessions    int
		concurrency int
		ops         int
		redisAddr   string
		sessPrefix  string
		chalPrefix  string
	)
	flagSet := pflag.NewFlagSet("portal-loadtest", pflag.ContinueOnError)
	flagSet.IntVar(&sessions, "sessions", 100000, "number of sessions to seed")
	flagSet.IntVar(&concurrency, "concurrency", 256, "number of concurrent workers")
	flagSet.IntVar(&ops, "ops", 200000, "operations per phase")
	flagSet.StringVar(&redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	flagSet.StringVar(&sessPrefix, "session-prefix", "as", "session key prefix")
	flagSet.StringVar(&chalPrefix, "challenge-prefix", "ac", "challenge key prefix")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	if sessions <= 0 || concurrency <= 0 || ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	sessionsMgr, err := session.NewManager(session.NewRedisStore(client, sessPrefix), session.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "session manager: %v\n", err)
		os.Exit(1)
	}
	discard := delivery.SenderFunc(func(context.Context, delivery.Message) error { return nil })
	challenges, err := challenge.NewManager(challenge.NewRedisStore(client, chalPrefix), discard, challenge.DefaultConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "challenge manager: %v\n", err)
		os.Exit(1)
	}

	tokens := make([]string, sessions)
	fmt.Printf("seeding %d sessions...\n", sessions)
	startSeed := time.Now()
	for i := range tokens {
		tok, err := sessionsMgr.Create(ctx, fmt.Sprintf("%d", i%1000+1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
		tokens[i] = tok
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(ops, concurrency, func(r *rand.Rand, _ int) error {
		_, err := sessionsMgr.Validate(ctx, tokens[r.Intn(len(tokens))])
		return err
	})
	challengeStats := runPhase(ops, concurrency, func(_ *rand.Rand, i int) error {
		return challengeRoundTrip(ctx, challenges, fmt.Sprintf("load-%d@example.com", i))
	})

	fmt.Println("---- results ----")
	printStats("session validate", validateStats)
	printStats("challenge issue+verify", challengeStats)
}

// challengeRoundTrip issues a code, spends one wrong attempt and then
// consumes it.
func challengeRoundTrip(ctx context.Context, m *challenge.Manager, identifier string) error {
	issued, err := m.Issue(ctx, challenge.IssueRequest{Identifier: identifier, Purpose: challenge.PurposeVerify})
	if err != nil {
		return err
	}
	wrong := "0000000000"[:len(issued.Code)]
	if wrong == issued.Code {
		wrong = "1111111111"[:len(issued.Code)]
	}
	res, err := m.Validate(ctx, identifier, wrong, challenge.PurposeVerify)
	if err != nil {
		return err
	}
	if res.Outcome != challenge.CodeMismatch {
		return fmt.Errorf("wrong code: unexpected outcome %s", res.Outcome)
	}
	res, err = m.Validate(ctx, identifier, issued.Code, challenge.PurposeVerify)
	if err != nil {
		return err
	}
	if res.Outcome != challenge.Success {
		return fmt.Errorf("right code: unexpected outcome %s", res.Outcome)
	}
	return nil
}

// runPhase runs ops calls of op across concurrency workers. op receives a
// per-worker rand and the global operation index.
func runPhase(ops, concurrency int, op func(r *rand.Rand, i int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
