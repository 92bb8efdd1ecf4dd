package session

import (
	"context"
	"encoding/binary"
	"sync"
	"time"
)

const memoryShards = 64

type memoryShard struct {
	mu    sync.Mutex
	items map[Key]Session
}

// MemoryStore is the default single-process Store. Sessions are sharded by
// key; a separate per-user index serves DeleteUser.
type MemoryStore struct {
	shards [memoryShards]memoryShard

	indexMu sync.Mutex
	byUser  map[string]map[Key]struct{}
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{byUser: make(map[string]map[Key]struct{})}
	for i := range s.shards {
		s.shards[i].items = make(map[Key]Session)
	}
	return s
}

// Keys are SHA-256 output, so their leading bytes are already uniform.
func (s *MemoryStore) shard(key Key) *memoryShard {
	return &s.shards[binary.BigEndian.Uint64(key[:8])%memoryShards]
}

func (s *MemoryStore) index(userID string, key Key) {
	s.indexMu.Lock()
	set, ok := s.byUser[userID]
	if !ok {
		set = make(map[Key]struct{})
		s.byUser[userID] = set
	}
	set[key] = struct{}{}
	s.indexMu.Unlock()
}

func (s *MemoryStore) unindex(userID string, key Key) {
	s.indexMu.Lock()
	if set, ok := s.byUser[userID]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(s.byUser, userID)
		}
	}
	s.indexMu.Unlock()
}

func (s *MemoryStore) Insert(_ context.Context, key Key, sess Session) (bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, taken := sh.items[key]; taken {
		return false, nil
	}
	sh.items[key] = sess
	s.index(sess.UserID, key)
	return true, nil
}

func (s *MemoryStore) Touch(_ context.Context, key Key, now time.Time) (Session, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess, ok := sh.items[key]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	if sess.Expired(now) {
		delete(sh.items, key)
		s.unindex(sess.UserID, key)
		return Session{}, ErrSessionExpired
	}

	sess.touch(now)
	sh.items[key] = sess
	return sess, nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sess, ok := sh.items[key]; ok {
		delete(sh.items, key)
		s.unindex(sess.UserID, key)
	}
	return nil
}

func (s *MemoryStore) DeleteUser(_ context.Context, userID string) (int, error) {
	s.indexMu.Lock()
	set := s.byUser[userID]
	delete(s.byUser, userID)
	s.indexMu.Unlock()

	removed := 0
	for key := range set {
		sh := s.shard(key)
		sh.mu.Lock()
		if sess, ok := sh.items[key]; ok && sess.UserID == userID {
			delete(sh.items, key)
			removed++
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, sess := range sh.items {
			if sess.Expired(now) {
				delete(sh.items, key)
				s.unindex(sess.UserID, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of stored sessions, dead ones included.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

// UserSessions returns how many sessions are indexed for userID.
func (s *MemoryStore) UserSessions(userID string) int {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	return len(s.byUser[userID])
}
