// Package confirm gates destructive operations behind a second, token-bearing
// chat message.
package confirm

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"drive-relay/internal/model"
)

const DefaultWindow = 5 * time.Minute

const tokenPrefix = "DELETE_"

// confirmationPattern matches a message that is only a token, optionally
// after a delete verb.
var confirmationPattern = regexp.MustCompile(`^(?:(?:DELETE|RM|DEL|REMOVE|CONFIRM)\s+)?DELETE_\d{6}$`)

type PendingDeletion struct {
	UserID     string
	TargetPath string
	Token      string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

type Result struct {
	Verified bool
	Path     string
	Err      error
}

// Gate holds at most one pending deletion per user.
type Gate struct {
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	pending map[string]PendingDeletion
}

type Option func(*Gate)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

func NewGate(window time.Duration, opts ...Option) *Gate {
	if window <= 0 {
		window = DefaultWindow
	}

	g := &Gate{
		window:  window,
		now:     time.Now,
		pending: map[string]PendingDeletion{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gate) Window() time.Duration {
	return g.window
}

// RequestDeletion records a pending deletion for the user, replacing any
// earlier one, and returns the token the user must echo back.
func (g *Gate) RequestDeletion(userID string, path string) PendingDeletion {
	now := g.now().UTC()
	token := tokenPrefix + now.Format("150405")

	pending := PendingDeletion{
		UserID:     userID,
		TargetPath: path,
		Token:      token,
		CreatedAt:  now,
		ExpiresAt:  now.Add(g.window),
	}

	g.mu.Lock()
	g.pending[userID] = pending
	g.mu.Unlock()

	return pending
}

// Verify checks the message against the user's pending deletion. A matching
// token consumes the entry; an expired entry is removed.
func (g *Gate) Verify(userID string, message string) Result {
	g.mu.Lock()
	defer g.mu.Unlock()

	pending, ok := g.pending[userID]
	if !ok {
		return Result{Err: model.ErrNoPendingRequest}
	}

	if !strings.Contains(strings.ToUpper(message), pending.Token) {
		return Result{Err: model.ErrInvalidToken}
	}

	if g.now().UTC().After(pending.ExpiresAt) {
		delete(g.pending, userID)
		return Result{Err: model.ErrExpired}
	}

	delete(g.pending, userID)
	return Result{Verified: true, Path: pending.TargetPath}
}

// Pending returns the number of outstanding confirmations.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// Lookup returns the user's pending deletion without consuming it.
func (g *Gate) Lookup(userID string) (PendingDeletion, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	pending, ok := g.pending[userID]
	return pending, ok
}

// Sweep drops expired entries and reports how many were removed.
func (g *Gate) Sweep() int {
	now := g.now().UTC()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for userID, pending := range g.pending {
		if now.After(pending.ExpiresAt) {
			delete(g.pending, userID)
			removed++
		}
	}
	return removed
}

// IsConfirmation reports whether text answers a deletion prompt. Either the
// token is the whole argument, or text carries the user's own pending token.
// A path that merely looks like a token is left to the delete flow.
func (g *Gate) IsConfirmation(userID string, text string) bool {
	upper := strings.ToUpper(strings.TrimSpace(text))
	if confirmationPattern.MatchString(upper) {
		return true
	}

	pending, ok := g.Lookup(userID)
	return ok && strings.Contains(upper, pending.Token)
}

// Describe maps gate errors to the text shown to the user.
func Describe(err error) string {
	switch {
	case errors.Is(err, model.ErrNoPendingRequest):
		return "No pending deletion found for this user."
	case errors.Is(err, model.ErrInvalidToken):
		return "Invalid confirmation code."
	case errors.Is(err, model.ErrExpired):
		return "Confirmation expired. Please try again."
	case err == nil:
		return ""
	default:
		return err.Error()
	}
}
