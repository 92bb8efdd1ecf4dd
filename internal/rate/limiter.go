package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds rate limiter tuning parameters. A zero max disables the
// corresponding limit.
type Config struct {
	EnableIPThrottle bool

	MaxLoginFailures int
	LoginCooldown    time.Duration

	MaxRequests   int
	RequestWindow time.Duration
}

// hitScript counts one hit and starts the window on the first, in a single
// round trip so a counter can never be left without a TTL.
var hitScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Limiter enforces per-identifier and per-IP limits on login failures and
// code requests with Redis fixed-window counters.
type Limiter struct {
	rdb redis.UniversalClient
	cfg Config
}

// New creates a Limiter backed by rdb.
func New(rdb redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{rdb: rdb, cfg: cfg}
}

func loginKey(identifier string) string          { return "pl:" + identifier }
func loginIPKey(ip string) string                { return "pli:" + ip }
func requestKey(scope, identifier string) string { return "pr:" + scope + ":" + identifier }
func requestIPKey(scope, ip string) string       { return "pri:" + scope + ":" + ip }

// keys returns the identifier key and, when IP throttling applies, the IP key.
func (l *Limiter) keys(idKey, ipKey, ip string) []string {
	if l.cfg.EnableIPThrottle && ip != "" {
		return []string{idKey, ipKey}
	}
	return []string{idKey}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// CheckLogin returns ErrRateLimited once the identifier, or the IP when IP
// throttling is on, has used up its failure budget for the window. It does
// not count anything.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	if l.cfg.MaxLoginFailures <= 0 {
		return nil
	}
	vals, err := l.rdb.MGet(ctx, l.keys(loginKey(identifier), loginIPKey(ip), ip)...).Result()
	if err != nil {
		return unavailable(err)
	}
	for _, v := range vals {
		if counterValue(v) >= int64(l.cfg.MaxLoginFailures) {
			return ErrRateLimited
		}
	}
	return nil
}

// IncrementLogin records a failed login attempt.
func (l *Limiter) IncrementLogin(ctx context.Context, identifier, ip string) error {
	if l.cfg.MaxLoginFailures <= 0 {
		return nil
	}
	for _, key := range l.keys(loginKey(identifier), loginIPKey(ip), ip) {
		if _, err := l.hit(ctx, key, l.cfg.LoginCooldown); err != nil {
			return err
		}
	}
	return nil
}

// ResetLogin clears the identifier's failure counter after a successful
// login. The per-IP counter is kept.
func (l *Limiter) ResetLogin(ctx context.Context, identifier string) error {
	if l.cfg.MaxLoginFailures <= 0 {
		return nil
	}
	if err := l.rdb.Del(ctx, loginKey(identifier)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// AllowRequest counts one code request in scope ("issue", "reset") and
// returns ErrRateLimited when the window budget is exceeded. The IP counter
// is not charged for requests already refused per identifier.
func (l *Limiter) AllowRequest(ctx context.Context, scope, identifier, ip string) error {
	if l.cfg.MaxRequests <= 0 {
		return nil
	}
	for _, key := range l.keys(requestKey(scope, identifier), requestIPKey(scope, ip), ip) {
		n, err := l.hit(ctx, key, l.cfg.RequestWindow)
		if err != nil {
			return err
		}
		if n > int64(l.cfg.MaxRequests) {
			return ErrRateLimited
		}
	}
	return nil
}

// LoginFailures returns the current failure count for identifier. Unknown
// identifiers report zero, so the count reveals nothing about accounts.
func (l *Limiter) LoginFailures(ctx context.Context, identifier string) (int, error) {
	n, err := l.rdb.Get(ctx, loginKey(identifier)).Int64()
	switch {
	case errors.Is(err, redis.Nil):
		return 0, nil
	case err != nil:
		return 0, unavailable(err)
	case n < 0:
		return 0, nil
	}
	return int(n), nil
}

func (l *Limiter) hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := hitScript.Run(ctx, l.rdb, []string{key}, window.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// counterValue reads an MGET entry; missing or garbled keys count as zero.
func counterValue(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
