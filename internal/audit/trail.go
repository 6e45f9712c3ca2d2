package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"drive-relay/internal/event"
	"drive-relay/internal/model"
)

// appendTimeout bounds one store write once it is detached from the caller.
const appendTimeout = 5 * time.Second

// Trail is the audit service the rest of the relay writes through.
type Trail struct {
	store   Store
	bus     event.Bus
	now     func() time.Time
	pending func() int
	seq     atomic.Uint64
}

type Option func(*Trail)

func WithBus(bus event.Bus) Option {
	return func(t *Trail) { t.bus = bus }
}

func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// WithPendingSource reports outstanding deletion confirmations in Health.
func WithPendingSource(pending func() int) Option {
	return func(t *Trail) { t.pending = pending }
}

func NewTrail(store Store, opts ...Option) *Trail {
	t := &Trail{store: store, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Trail) Backend() string {
	return t.store.Name()
}

// Append records the entry and returns its log id. Persistence failures are
// logged, never returned: a lost audit line must not fail the user command.
// The write outlives a cancelled caller since the action already happened.
func (t *Trail) Append(ctx context.Context, rec model.AuditRecord) string {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()

	ts := t.now().UTC()
	entry := model.AuditEntry{
		LogID:           t.logID(ts, rec.UserID, rec.CommandType),
		Timestamp:       ts,
		UserID:          rec.UserID,
		CommandType:     rec.CommandType,
		Path:            rec.Path,
		DestinationPath: rec.DestinationPath,
		Result:          rec.Result,
		ErrorMessage:    rec.ErrorMessage,
		Extra:           rec.Extra,
	}

	if err := t.store.Insert(writeCtx, entry); err != nil {
		slog.Error("audit append failed",
			"backend", t.store.Name(),
			"log_id", entry.LogID,
			"command_type", entry.CommandType,
			"error", err,
		)
		return entry.LogID
	}

	if t.bus != nil {
		t.bus.Publish(event.Event{
			Type:    event.TypeAuditAppended,
			Payload: entry,
			ActorID: entry.UserID,
		})
	}

	return entry.LogID
}

func (t *Trail) logID(ts time.Time, userID string, commandType string) string {
	base := fmt.Sprintf("%s_%s_%s", ts.Format(time.RFC3339Nano), userID, commandType)
	base = strings.ReplaceAll(base, ":", "-")
	return fmt.Sprintf("%s_%d", base, t.seq.Add(1))
}

func (t *Trail) Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	entries, err := t.store.Select(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	return entries, nil
}

// CountSince counts entries for one user and command type strictly after since.
func (t *Trail) CountSince(ctx context.Context, userID string, commandType string, since time.Time) (int, error) {
	count, err := t.store.Count(ctx, model.AuditFilter{
		UserID:      userID,
		CommandType: commandType,
		Since:       since,
	})
	if err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return count, nil
}

func (t *Trail) Statistics(ctx context.Context, userID string, days int) (model.UserStatistics, error) {
	if days <= 0 {
		days = 7
	}

	stats := model.UserStatistics{
		UserID:        userID,
		PeriodDays:    days,
		ByType:        map[string]int{},
		PathsAccessed: []string{},
	}

	entries, err := t.store.Select(ctx, model.AuditFilter{
		UserID: userID,
		Since:  t.now().UTC().Add(-time.Duration(days) * 24 * time.Hour),
	})
	if err != nil {
		return stats, fmt.Errorf("load user statistics: %w", err)
	}

	paths := make(map[string]struct{})
	for _, entry := range entries {
		stats.TotalCommands++
		stats.ByType[entry.CommandType]++

		switch {
		case entry.Result == model.ResultSuccess:
			stats.SuccessCount++
		case isFailure(entry.Result):
			stats.FailureCount++
		}

		if entry.Path != "" {
			paths[entry.Path] = struct{}{}
		}
		if stats.LastActivity == nil || entry.Timestamp.After(*stats.LastActivity) {
			ts := entry.Timestamp
			stats.LastActivity = &ts
		}
	}

	for p := range paths {
		stats.PathsAccessed = append(stats.PathsAccessed, p)
	}
	sort.Strings(stats.PathsAccessed)
	stats.UniquePaths = len(stats.PathsAccessed)

	return stats, nil
}

func isFailure(result string) bool {
	switch result {
	case model.ResultFailed, model.ResultBlocked, model.ResultSystemError, model.ResultAuthFailed:
		return true
	}
	return false
}

// Health never fails; an unreachable store is reported in the result.
func (t *Trail) Health(ctx context.Context) model.AuditHealth {
	now := t.now().UTC()
	health := model.AuditHealth{
		Timestamp: now,
		Backend:   t.store.Name(),
		Reachable: true,
	}
	if t.pending != nil {
		health.PendingConfirmations = t.pending()
	}

	if err := t.store.Ping(ctx); err != nil {
		health.Reachable = false
		health.Error = err.Error()
		return health
	}

	recent, err := t.store.Select(ctx, model.AuditFilter{Since: now.Add(-24 * time.Hour)})
	if err != nil {
		health.Reachable = false
		health.Error = err.Error()
		return health
	}

	users := make(map[string]struct{})
	success := 0
	for _, entry := range recent {
		users[entry.UserID] = struct{}{}
		if entry.Result == model.ResultSuccess {
			success++
		}
	}
	health.RecentVolume = len(recent)
	health.UniqueUsers = len(users)
	if len(recent) > 0 {
		health.SuccessRatio = float64(success) / float64(len(recent)) * 100
	}

	if size, err := t.store.Size(ctx); err == nil {
		health.StoredEntries = size.Entries
		health.StorageBytes = size.Bytes
	} else {
		slog.Warn("audit size unavailable", "backend", t.store.Name(), "error", err)
	}

	return health
}
