package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// expiredGrace keeps a dead record around past its idle expiry so the next
// access is answered with ErrSessionExpired instead of ErrSessionNotFound.
const expiredGrace = time.Minute

const touchMaxRetries = 5

// RedisStore shares sessions between portal processes.
//
// Keys:
//
//	<prefix>:<hex(sha256(token))>  binary session record, TTL idle+grace
//	<prefix>u:<userID>             set of hex keys owned by the user
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "as"
	}
	return &RedisStore{redis: client, prefix: prefix}
}

func (s *RedisStore) key(key Key) string {
	return s.prefix + ":" + hex.EncodeToString(key[:])
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

func recordTTL(sess Session) time.Duration {
	return sess.IdleTimeout + expiredGrace
}

func (s *RedisStore) Insert(ctx context.Context, key Key, sess Session) (bool, error) {
	data, err := Encode(sess)
	if err != nil {
		return false, err
	}
	redisKey := s.key(key)

	inserted := false
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, redisKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, data, recordTTL(sess))
			pipe.SAdd(ctx, s.userKey(sess.UserID), hex.EncodeToString(key[:]))
			return nil
		})
		if err != nil {
			return err
		}
		inserted = true
		return nil
	}

	if err := s.redis.Watch(ctx, txf, redisKey); err != nil {
		if errors.Is(err, redis.TxFailedErr) {
			// Someone wrote the key between EXISTS and EXEC.
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return inserted, nil
}

func (s *RedisStore) Touch(ctx context.Context, key Key, now time.Time) (Session, error) {
	redisKey := s.key(key)

	var out Session
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, redisKey).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrSessionNotFound
			}
			return err
		}

		sess, err := Decode(data)
		if err != nil {
			return err
		}

		if sess.Expired(now) {
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, redisKey)
				pipe.SRem(ctx, s.userKey(sess.UserID), hex.EncodeToString(key[:]))
				return nil
			})
			if err != nil {
				return err
			}
			return ErrSessionExpired
		}

		sess.touch(now)
		updated, err := Encode(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, updated, recordTTL(sess))
			return nil
		})
		if err != nil {
			return err
		}
		out = sess
		return nil
	}

	for i := 0; i < touchMaxRetries; i++ {
		err := s.redis.Watch(ctx, txf, redisKey)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSessionExpired):
			return Session{}, err
		default:
			return Session{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return Session{}, fmt.Errorf("%w: touch contention on session", ErrStoreUnavailable)
}

func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	redisKey := s.key(key)

	data, err := s.redis.Get(ctx, redisKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisKey)
		if sess, decErr := Decode(data); decErr == nil {
			pipe.SRem(ctx, s.userKey(sess.UserID), hex.EncodeToString(key[:]))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// DeleteUser is not atomic with respect to a concurrent Insert for the same
// user: a session created between SMEMBERS and DEL survives.
func (s *RedisStore) DeleteUser(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	members, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if len(members) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(members))
	for _, m := range members {
		keys = append(keys, s.prefix+":"+m)
	}

	var delCmd *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, userKey, toAny(members)...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return int(delCmd.Val()), nil
}

// Sweep is a no-op. Redis evicts dead records through their TTL.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

// Ping reports Redis availability and round-trip latency.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return time.Since(start), nil
}

func toAny(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
