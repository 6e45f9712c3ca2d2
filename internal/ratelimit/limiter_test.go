package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drive-relay/internal/audit"
	"drive-relay/internal/model"
)

type brokenCounter struct{}

func (brokenCounter) CountSince(context.Context, string, string, time.Time) (int, error) {
	return 0, errors.New("store offline")
}

func newTrail(now *time.Time) *audit.Trail {
	return audit.NewTrail(audit.NewMemoryStore(1000), audit.WithClock(func() time.Time { return *now }))
}

func TestCheckBlocksAfterLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	trail := newTrail(&now)
	limiter := New(trail, trail, WithClock(func() time.Time { return now }))

	for i := 0; i < 3; i++ {
		decision := limiter.Check(ctx, "+1", model.CommandMessage, 3)
		require.True(t, decision.Allowed, "check %d", i)
		require.Equal(t, 3-i, decision.Remaining)
		trail.Append(ctx, model.AuditRecord{UserID: "+1", CommandType: model.CommandMessage, Result: model.ResultProcessed})
		now = now.Add(time.Second)
	}

	decision := limiter.Check(ctx, "+1", model.CommandMessage, 3)
	require.False(t, decision.Allowed)
	require.Equal(t, 3, decision.Used)
	require.Zero(t, decision.Remaining)

	blocked, err := trail.Query(ctx, model.AuditFilter{CommandType: model.CommandRateLimitExceeded})
	require.NoError(t, err)
	require.Len(t, blocked, 1)
	require.Equal(t, model.ResultBlocked, blocked[0].Result)
	require.Equal(t, model.CommandMessage, blocked[0].Extra["attempted_command"])
	require.Equal(t, 3, blocked[0].Extra["commands_in_window"])
	require.Equal(t, 3, blocked[0].Extra["limit"])

	other := limiter.Check(ctx, "+2", model.CommandMessage, 3)
	require.True(t, other.Allowed)
}

func TestCheckIgnoresEntriesOutsideWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	trail := newTrail(&now)
	limiter := New(trail, trail, WithClock(func() time.Time { return now }), WithWindow(time.Hour))

	trail.Append(ctx, model.AuditRecord{UserID: "+1", CommandType: model.CommandMessage, Result: model.ResultProcessed})
	trail.Append(ctx, model.AuditRecord{UserID: "+1", CommandType: model.CommandMessage, Result: model.ResultProcessed})

	now = now.Add(61 * time.Minute)
	decision := limiter.Check(ctx, "+1", model.CommandMessage, 2)
	require.True(t, decision.Allowed)
	require.Zero(t, decision.Used)
}

func TestCheckCountsOnlyRequestedClass(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	trail := newTrail(&now)
	limiter := New(trail, trail, WithClock(func() time.Time { return now }))

	trail.Append(ctx, model.AuditRecord{UserID: "+1", CommandType: "LIST", Result: model.ResultSuccess})
	trail.Append(ctx, model.AuditRecord{UserID: "+1", CommandType: model.CommandRateLimitExceeded, Result: model.ResultBlocked})

	decision := limiter.Check(ctx, "+1", model.CommandMessage, 1)
	require.True(t, decision.Allowed)
}

func TestCheckFailPolicy(t *testing.T) {
	t.Parallel()

	open := New(brokenCounter{}, nil).Check(context.Background(), "+1", model.CommandMessage, 5)
	require.True(t, open.Allowed)
	require.True(t, open.Degraded)

	closed := New(brokenCounter{}, nil, WithFailOpen(false)).Check(context.Background(), "+1", model.CommandMessage, 5)
	require.False(t, closed.Allowed)
	require.True(t, closed.Degraded)
}

func TestCheckDefaultsLimit(t *testing.T) {
	t.Parallel()

	decision := New(audit.NewTrail(audit.NewMemoryStore(10)), nil).Check(context.Background(), "+1", model.CommandMessage, 0)
	require.Equal(t, DefaultMessageLimit, decision.Limit)
}
