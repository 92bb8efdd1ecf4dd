package challenge

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// expiredGrace keeps a record in Redis past its logical expiry so a late
// attempt is answered with Expired rather than NotFound.
const expiredGrace = 5 * time.Minute

const (
	attemptStatusNotFound  int64 = 0
	attemptStatusSuccess   int64 = 1
	attemptStatusMismatch  int64 = 2
	attemptStatusExpired   int64 = 3
	attemptStatusExhausted int64 = 4
)

// attemptLua performs GET→purpose→decrement→expiry→compare→DEL/SET in one
// script, so concurrent attempts on one identifier serialize in Redis.
// KEYS[1] = record key
// ARGV[1] = provided code hash (32 bytes)
// ARGV[2] = expected purpose
// ARGV[3] = now, unix milliseconds
//
// Returns {status, remaining[, record]}; the record is included on success.
var attemptLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {0, 0}
end

if string.byte(data, 1) ~= 1 or #data < 52 then
  redis.call('DEL', KEYS[1])
  return {0, 0}
end

local providedHash = ARGV[1]
local expectedPurpose = ARGV[2]
local nowMs = tonumber(ARGV[3])

local purposeLen = string.byte(data, 52)
local purpose = string.sub(data, 53, 52 + purposeLen)
if purpose ~= expectedPurpose then
  return {0, 0}
end

local remaining = string.byte(data, 2) * 256 + string.byte(data, 3) - 1
if remaining < 0 then
  remaining = 0
end

local expiresAt = 0
for _, b in ipairs({string.byte(data, 4, 11)}) do
  expiresAt = expiresAt * 256 + b
end

if nowMs > expiresAt then
  redis.call('DEL', KEYS[1])
  return {3, 0}
end

local storedHash = string.sub(data, 12, 43)
if storedHash == providedHash then
  redis.call('DEL', KEYS[1])
  return {1, remaining, data}
end

if remaining == 0 then
  redis.call('DEL', KEYS[1])
  return {4, 0}
end

local newData = string.sub(data, 1, 1) .. string.char(math.floor(remaining / 256), remaining % 256) .. string.sub(data, 4)
local ttlMs = redis.call('PTTL', KEYS[1])
if ttlMs > 0 then
  redis.call('SET', KEYS[1], newData, 'PX', ttlMs)
else
  redis.call('SET', KEYS[1], newData)
end
return {2, remaining}
`)

// RedisStore keeps challenges in Redis so several portal processes share
// them. Records are binary; see codec.go.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "apc"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(identifier string) string {
	return s.prefix + ":" + identifier
}

func (s *RedisStore) Put(ctx context.Context, c Challenge) error {
	encoded, err := encodeRecord(c)
	if err != nil {
		return err
	}

	ttl := c.ExpiresAt.Sub(c.IssuedAt) + expiredGrace
	if err := s.redis.Set(ctx, s.key(c.Identifier), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, identifier string) (Challenge, bool, error) {
	data, err := s.redis.Get(ctx, s.key(identifier)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Challenge{}, false, nil
		}
		return Challenge{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	c, err := decodeRecord(identifier, data)
	if err != nil {
		return Challenge{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return c, true, nil
}

func (s *RedisStore) Delete(ctx context.Context, identifier string) error {
	if err := s.redis.Del(ctx, s.key(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Attempt(ctx context.Context, identifier string, codeHash [32]byte, purpose Purpose, now time.Time) (Result, error) {
	raw, err := attemptLua.Run(ctx, s.redis,
		[]string{s.key(identifier)},
		string(codeHash[:]),
		string(purpose),
		now.UnixMilli(),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if len(raw) < 2 {
		return Result{}, fmt.Errorf("%w: unexpected lua result length %d", ErrStoreUnavailable, len(raw))
	}

	status, ok1 := raw[0].(int64)
	remaining, ok2 := raw[1].(int64)
	if !ok1 || !ok2 {
		return Result{}, fmt.Errorf("%w: unexpected lua result type", ErrStoreUnavailable)
	}

	switch status {
	case attemptStatusNotFound:
		return Result{Outcome: NotFound}, nil
	case attemptStatusExpired:
		return Result{Outcome: Expired}, nil
	case attemptStatusExhausted:
		return Result{Outcome: AttemptsExhausted}, nil
	case attemptStatusMismatch:
		return Result{Outcome: CodeMismatch, Remaining: int(remaining)}, nil
	case attemptStatusSuccess:
	default:
		return Result{}, fmt.Errorf("%w: unknown attempt status %d", ErrStoreUnavailable, status)
	}

	if len(raw) < 3 {
		return Result{}, fmt.Errorf("%w: missing record on success", ErrStoreUnavailable)
	}
	data, ok := raw[2].(string)
	if !ok {
		return Result{}, fmt.Errorf("%w: unexpected record type", ErrStoreUnavailable)
	}
	c, err := decodeRecord(identifier, []byte(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Lua string equality is not constant-time; confirm in Go.
	if subtle.ConstantTimeCompare(c.CodeHash[:], codeHash[:]) != 1 {
		return Result{Outcome: CodeMismatch, Remaining: int(remaining)}, nil
	}
	return Result{Outcome: Success, Role: c.Role, Remaining: int(remaining)}, nil
}
