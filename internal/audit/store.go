// Package audit keeps the append-only record of every command attempt.
package audit

import (
	"context"
	"sync"
	"time"

	"drive-relay/internal/model"
)

const DefaultMaxEntries = 10_000

// Store persists entries. Implementations evict the oldest entries once more
// than their configured ceiling are held, and Select returns newest first.
type Store interface {
	Name() string
	Insert(ctx context.Context, entry model.AuditEntry) error
	Select(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error)
	Count(ctx context.Context, filter model.AuditFilter) (int, error)
	Size(ctx context.Context) (StoreSize, error)
	Ping(ctx context.Context) error
}

type StoreSize struct {
	Entries int
	Bytes   int64
}

// Counter is the narrow read used by the rate limiter.
type Counter interface {
	CountSince(ctx context.Context, userID string, commandType string, since time.Time) (int, error)
}

type MemoryStore struct {
	maxEntries int

	mu      sync.RWMutex
	entries []model.AuditEntry
}

func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{maxEntries: maxEntries}
}

func (s *MemoryStore) Name() string {
	return "memory"
}

func (s *MemoryStore) Insert(_ context.Context, entry model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = append(s.entries, entry)
	if overflow := len(s.entries) - s.maxEntries; overflow > 0 {
		kept := make([]model.AuditEntry, s.maxEntries)
		copy(kept, s.entries[overflow:])
		s.entries = kept
	}
	return nil
}

func (s *MemoryStore) Select(_ context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return selectNewestFirst(s.entries, filter), nil
}

func (s *MemoryStore) Count(_ context.Context, filter model.AuditFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.entries {
		if filter.Match(entry) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) Size(_ context.Context) (StoreSize, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StoreSize{Entries: len(s.entries)}, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// selectNewestFirst filters entries kept in append order.
func selectNewestFirst(entries []model.AuditEntry, filter model.AuditFilter) []model.AuditEntry {
	out := make([]model.AuditEntry, 0)
	for i := len(entries) - 1; i >= 0; i-- {
		if !filter.Match(entries[i]) {
			continue
		}
		out = append(out, entries[i])
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}
