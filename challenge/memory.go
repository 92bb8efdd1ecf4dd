package challenge

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const memoryShards = 64

type memoryShard struct {
	mu    sync.Mutex
	items map[string]Challenge
}

// MemoryStore keeps challenges in process memory. Identifiers are spread
// over shards by xxhash; each shard's mutex is the per-identifier lock.
// Contents are lost on restart.
type MemoryStore struct {
	shards [memoryShards]memoryShard
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].items = make(map[string]Challenge)
	}
	return s
}

func (s *MemoryStore) shard(identifier string) *memoryShard {
	return &s.shards[xxhash.Sum64String(identifier)%memoryShards]
}

func (s *MemoryStore) Put(_ context.Context, c Challenge) error {
	sh := s.shard(c.Identifier)
	sh.mu.Lock()
	sh.items[c.Identifier] = c
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, identifier string) (Challenge, bool, error) {
	sh := s.shard(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	c, ok := sh.items[identifier]
	return c, ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, identifier string) error {
	sh := s.shard(identifier)
	sh.mu.Lock()
	delete(sh.items, identifier)
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Attempt(_ context.Context, identifier string, codeHash [32]byte, purpose Purpose, now time.Time) (Result, error) {
	sh := s.shard(identifier)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.items[identifier]
	if !ok {
		return Result{Outcome: NotFound}, nil
	}

	res, keep := apply(&c, codeHash, purpose, now)
	if keep {
		sh.items[identifier] = c
	} else {
		delete(sh.items, identifier)
	}
	return res, nil
}

// Sweep drops challenges that expired before now and returns how many were
// removed. Correctness does not depend on it; it only reclaims memory.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, c := range sh.items {
			if now.After(c.ExpiresAt) {
				delete(sh.items, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored challenges, expired ones included.
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
