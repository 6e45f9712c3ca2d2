package audit

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drive-relay/internal/event"
	"drive-relay/internal/model"
)

type failingStore struct {
	*MemoryStore
	err error
}

func (s failingStore) Insert(context.Context, model.AuditEntry) error { return s.err }
func (s failingStore) Ping(context.Context) error                     { return s.err }

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestAppendFillsIDAndTimestamp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)
	trail := NewTrail(NewMemoryStore(10), WithClock(fixedClock(now)))

	id := trail.Append(ctx, model.AuditRecord{UserID: "+100", CommandType: "LIST", Path: "/docs", Result: model.ResultSuccess})
	require.True(t, strings.HasPrefix(id, "2026-03-01T09-30-15Z_+100_LIST_"))
	require.NotContains(t, id, ":")

	entries, err := trail.Query(ctx, model.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, id, entries[0].LogID)
	require.True(t, entries[0].Timestamp.Equal(now))
}

func TestAppendIDsAreUniqueUnderConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	trail := NewTrail(NewMemoryStore(1000), WithClock(fixedClock(baseTime)))

	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := trail.Append(ctx, model.AuditRecord{UserID: "+1", CommandType: "HELP", Result: model.ResultSuccess})
			mu.Lock()
			seen[id] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, seen, 50)
	count, err := trail.CountSince(ctx, "+1", "HELP", baseTime.Add(-time.Second))
	require.NoError(t, err)
	require.Equal(t, 50, count)
}

func TestAppendSwallowsStoreFailure(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	trail := NewTrail(failingStore{MemoryStore: NewMemoryStore(10), err: errors.New("disk full")}, WithBus(bus))
	id := trail.Append(context.Background(), model.AuditRecord{UserID: "+1", CommandType: "LIST", Result: model.ResultSuccess})
	require.NotEmpty(t, id)

	select {
	case e := <-events:
		t.Fatalf("unexpected event %v", e.Type)
	default:
	}
}

func TestAppendPersistsAfterCallerCancelled(t *testing.T) {
	t.Parallel()

	store, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "audit.db"), 100)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	trail := NewTrail(store)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	id := trail.Append(ctx, model.AuditRecord{
		UserID:      "whatsapp:+15550001111",
		CommandType: model.CommandDeleteConfirmed,
		Path:        "/docs/report.txt",
		Result:      model.ResultSuccess,
	})

	entries, err := trail.Query(context.Background(), model.AuditFilter{CommandType: model.CommandDeleteConfirmed})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, id, entries[0].LogID)
	require.Equal(t, "/docs/report.txt", entries[0].Path)
}

func TestAppendPublishesEvent(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	trail := NewTrail(NewMemoryStore(10), WithBus(bus))
	id := trail.Append(context.Background(), model.AuditRecord{UserID: "+7", CommandType: "MOVE", Result: model.ResultSuccess})

	received := <-events
	require.Equal(t, event.TypeAuditAppended, received.Type)
	require.Equal(t, "+7", received.ActorID)
	entry, ok := received.Payload.(model.AuditEntry)
	require.True(t, ok)
	require.Equal(t, id, entry.LogID)
}

func TestStatistics(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := baseTime.Add(10 * 24 * time.Hour)
	store := NewMemoryStore(100)

	old := entryAt(0, "+1", "LIST", model.ResultSuccess)
	old.Timestamp = now.Add(-8 * 24 * time.Hour)
	require.NoError(t, store.Insert(ctx, old))

	records := []model.AuditEntry{
		{LogID: "a", Timestamp: now.Add(-3 * time.Hour), UserID: "+1", CommandType: "LIST", Path: "/docs", Result: model.ResultSuccess},
		{LogID: "b", Timestamp: now.Add(-2 * time.Hour), UserID: "+1", CommandType: "DELETE_REQUEST", Path: "/docs/a.txt", Result: model.ResultPendingConfirmation},
		{LogID: "c", Timestamp: now.Add(-1 * time.Hour), UserID: "+1", CommandType: "LIST", Path: "/docs", Result: model.ResultFailed},
		{LogID: "d", Timestamp: now.Add(-30 * time.Minute), UserID: "+1", CommandType: "RATE_LIMIT_EXCEEDED", Result: model.ResultBlocked},
		{LogID: "e", Timestamp: now.Add(-10 * time.Minute), UserID: "+2", CommandType: "LIST", Path: "/other", Result: model.ResultSuccess},
	}
	for _, r := range records {
		require.NoError(t, store.Insert(ctx, r))
	}

	trail := NewTrail(store, WithClock(fixedClock(now)))
	stats, err := trail.Statistics(ctx, "+1", 7)
	require.NoError(t, err)

	require.Equal(t, 4, stats.TotalCommands)
	require.Equal(t, 2, stats.ByType["LIST"])
	require.Equal(t, 1, stats.SuccessCount)
	require.Equal(t, 2, stats.FailureCount)
	require.Equal(t, []string{"/docs", "/docs/a.txt"}, stats.PathsAccessed)
	require.Equal(t, 2, stats.UniquePaths)
	require.NotNil(t, stats.LastActivity)
	require.True(t, stats.LastActivity.Equal(now.Add(-30*time.Minute)))
}

func TestStatisticsEmptyUser(t *testing.T) {
	t.Parallel()

	trail := NewTrail(NewMemoryStore(10))
	stats, err := trail.Statistics(context.Background(), "+999", 0)
	require.NoError(t, err)
	require.Equal(t, 7, stats.PeriodDays)
	require.Zero(t, stats.TotalCommands)
	require.Nil(t, stats.LastActivity)
	require.Empty(t, stats.PathsAccessed)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := baseTime.Add(48 * time.Hour)
	store := NewMemoryStore(100)

	stale := entryAt(0, "+9", "LIST", model.ResultSuccess)
	require.NoError(t, store.Insert(ctx, stale))
	require.NoError(t, store.Insert(ctx, model.AuditEntry{LogID: "x", Timestamp: now.Add(-time.Hour), UserID: "+1", CommandType: "LIST", Result: model.ResultSuccess}))
	require.NoError(t, store.Insert(ctx, model.AuditEntry{LogID: "y", Timestamp: now.Add(-time.Minute), UserID: "+2", CommandType: "MOVE", Result: model.ResultFailed}))

	trail := NewTrail(store, WithClock(fixedClock(now)), WithPendingSource(func() int { return 3 }))
	health := trail.Health(ctx)

	require.True(t, health.Reachable)
	require.Equal(t, "memory", health.Backend)
	require.Equal(t, 3, health.PendingConfirmations)
	require.Equal(t, 2, health.RecentVolume)
	require.Equal(t, 2, health.UniqueUsers)
	require.InDelta(t, 50.0, health.SuccessRatio, 0.001)
	require.Equal(t, 3, health.StoredEntries)
}

func TestHealthReportsUnreachableStore(t *testing.T) {
	t.Parallel()

	trail := NewTrail(failingStore{MemoryStore: NewMemoryStore(10), err: errors.New("connection refused")})
	health := trail.Health(context.Background())
	require.False(t, health.Reachable)
	require.Equal(t, "connection refused", health.Error)
}
