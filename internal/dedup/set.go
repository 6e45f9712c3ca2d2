// Package dedup suppresses redelivered transport messages.
package dedup

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultTTL        = 24 * time.Hour
	DefaultMaxEntries = 100_000
)

type entry struct {
	id     string
	seenAt time.Time
}

// Set remembers message ids for a bounded time. Insertion order is kept so
// expiry and overflow both evict the oldest ids first.
type Set struct {
	ttl        time.Duration
	maxEntries int
	now        func() time.Time

	mu    sync.Mutex
	order *list.List
	index map[string]*list.Element
}

func New(ttl time.Duration, maxEntries int) *Set {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}

	return &Set{
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
		order:      list.New(),
		index:      map[string]*list.Element{},
	}
}

// SetClock replaces the wall clock, for tests.
func (s *Set) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// FirstSeen atomically records id and reports whether this is its first
// delivery within the TTL. Empty ids are never deduplicated.
func (s *Set) FirstSeen(id string) bool {
	if id == "" {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.evictExpiredLocked(now)

	if _, exists := s.index[id]; exists {
		return false
	}

	s.index[id] = s.order.PushBack(entry{id: id, seenAt: now})
	for s.order.Len() > s.maxEntries {
		s.removeLocked(s.order.Front())
	}

	return true
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Sweep evicts expired ids and reports how many were removed.
func (s *Set) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictExpiredLocked(s.now())
}

// StartSweeper evicts expired ids every interval until ctx is done.
func (s *Set) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Sweep(); removed > 0 {
				slog.Debug("dedup sweep", "removed", removed, "remaining", s.Len())
			}
		}
	}
}

func (s *Set) evictExpiredLocked(now time.Time) int {
	cutoff := now.Add(-s.ttl)
	removed := 0
	for front := s.order.Front(); front != nil; front = s.order.Front() {
		if front.Value.(entry).seenAt.After(cutoff) {
			break
		}
		s.removeLocked(front)
		removed++
	}
	return removed
}

func (s *Set) removeLocked(el *list.Element) {
	s.order.Remove(el)
	delete(s.index, el.Value.(entry).id)
}
