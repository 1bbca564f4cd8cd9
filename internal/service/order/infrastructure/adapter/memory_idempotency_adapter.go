package adapter

import (
	"context"
	"sync"
	"time"
)

// sweepInterval 两次清理过期条目的最小间隔，清理在写入时顺带进行
const sweepInterval = time.Minute

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryIdempotencyStore 是进程内的 port.IdempotencyStore 实现，用于单实例运行和测试
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries   map[string]memoryEntry
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryIdempotencyStore) get(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryIdempotencyStore) put(key string, value []byte, ttl time.Duration) {
	now := s.now()
	if now.Sub(s.lastSweep) >= sweepInterval {
		s.sweep(now)
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
}

// sweep 删除所有已过期的条目；不会再被读取的 key 也要靠它回收
func (s *MemoryIdempotencyStore) sweep(now time.Time) {
	for k, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.lastSweep = now
}

func (s *MemoryIdempotencyStore) Claim(_ context.Context, scope, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := idempotencyKey(scope, key)
	if _, ok := s.get(k); ok {
		return false, nil
	}
	s.put(k, nil, ttl)
	return true, nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, scope, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, idempotencyKey(scope, key))
	return nil
}

func (s *MemoryIdempotencyStore) Remember(_ context.Context, scope, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(idempotencyKey(scope, key)+":value", append([]byte(nil), value...), ttl)
	return nil
}

func (s *MemoryIdempotencyStore) Recall(_ context.Context, scope, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(idempotencyKey(scope, key) + ":value")
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}
