// Package ratelimit applies per-sender quotas over a sliding window of the
// audit trail.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"drive-relay/internal/audit"
	"drive-relay/internal/model"
)

const (
	DefaultWindow       = time.Hour
	DefaultMessageLimit = 30
)

type Decision struct {
	Allowed   bool `json:"allowed"`
	Remaining int  `json:"remaining"`
	Used      int  `json:"used"`
	Limit     int  `json:"limit"`
	// Degraded is set when the window could not be read and the fail policy decided.
	Degraded bool `json:"degraded,omitempty"`
}

// Appender is the write side of the audit trail.
type Appender interface {
	Append(ctx context.Context, rec model.AuditRecord) string
}

type Limiter struct {
	counter  audit.Counter
	appender Appender
	window   time.Duration
	failOpen bool
	now      func() time.Time
}

type Option func(*Limiter)

func WithWindow(window time.Duration) Option {
	return func(l *Limiter) {
		if window > 0 {
			l.window = window
		}
	}
}

// WithFailOpen chooses what happens when the counter errors. Open lets the
// command through; closed blocks it.
func WithFailOpen(open bool) Option {
	return func(l *Limiter) { l.failOpen = open }
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func New(counter audit.Counter, appender Appender, opts ...Option) *Limiter {
	l := &Limiter{
		counter:  counter,
		appender: appender,
		window:   DefaultWindow,
		failOpen: true,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Window() time.Duration {
	return l.window
}

// Check counts commandClass entries for userID inside the window. A denied
// check is itself recorded as RATE_LIMIT_EXCEEDED, which never counts
// against the class being checked.
func (l *Limiter) Check(ctx context.Context, userID string, commandClass string, limit int) Decision {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}

	since := l.now().UTC().Add(-l.window)
	used, err := l.counter.CountSince(ctx, userID, commandClass, since)
	if err != nil {
		slog.Error("rate limit window unavailable",
			"user_id", userID,
			"command_class", commandClass,
			"fail_open", l.failOpen,
			"error", err,
		)
		if l.failOpen {
			return Decision{Allowed: true, Remaining: limit, Limit: limit, Degraded: true}
		}
		return Decision{Allowed: false, Remaining: 0, Limit: limit, Degraded: true}
	}

	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	decision := Decision{
		Allowed:   used < limit,
		Remaining: remaining,
		Used:      used,
		Limit:     limit,
	}

	if !decision.Allowed && l.appender != nil {
		l.appender.Append(ctx, model.AuditRecord{
			UserID:      userID,
			CommandType: model.CommandRateLimitExceeded,
			Result:      model.ResultBlocked,
			Extra: map[string]any{
				"attempted_command":  commandClass,
				"commands_in_window": used,
				"limit":              limit,
			},
		})
	}

	return decision
}
