// Package dispatcher runs one inbound chat message through dedup, the rate
// limiter, the parser and the intent handlers, and always produces a reply.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
	"unicode/utf8"

	"drive-relay/internal/confirm"
	"drive-relay/internal/event"
	"drive-relay/internal/model"
	"drive-relay/internal/parser"
	"drive-relay/internal/ratelimit"
	"drive-relay/internal/storage"
)

const (
	DefaultCollaboratorTimeout = 20 * time.Second
	DefaultMaxFilesPerSummary  = 5
	defaultFetchConcurrency    = 3
)

type Deduplicator interface {
	FirstSeen(id string) bool
}

type RateChecker interface {
	Check(ctx context.Context, userID string, commandClass string, limit int) ratelimit.Decision
	Window() time.Duration
}

type Auditor interface {
	Append(ctx context.Context, rec model.AuditRecord) string
}

type Summarizer interface {
	Summarize(ctx context.Context, content string, contextLabel string) (model.Summary, error)
	SummarizeMany(ctx context.Context, inputs []model.SummaryInput) (model.FolderSummary, error)
	Services() []string
}

type Config struct {
	RateLimitPerHour    int
	CollaboratorTimeout time.Duration
	MaxFilesPerSummary  int
	FetchConcurrency    int
}

type Dependencies struct {
	Dedup      Deduplicator
	Limiter    RateChecker
	Gate       *confirm.Gate
	Audit      Auditor
	Storage    storage.Backend
	Summarizer Summarizer
	Bus        event.Bus
	Parser     *parser.Parser
}

type Dispatcher struct {
	cfg  Config
	deps Dependencies
}

func New(cfg Config, deps Dependencies) *Dispatcher {
	if cfg.RateLimitPerHour <= 0 {
		cfg.RateLimitPerHour = ratelimit.DefaultMessageLimit
	}
	if cfg.CollaboratorTimeout <= 0 {
		cfg.CollaboratorTimeout = DefaultCollaboratorTimeout
	}
	if cfg.MaxFilesPerSummary <= 0 {
		cfg.MaxFilesPerSummary = DefaultMaxFilesPerSummary
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = defaultFetchConcurrency
	}
	if deps.Parser == nil {
		deps.Parser = parser.New()
	}
	if deps.Gate == nil {
		deps.Gate = confirm.NewGate(confirm.DefaultWindow)
	}
	return &Dispatcher{cfg: cfg, deps: deps}
}

// Handle processes one delivery. handled is false only for a duplicate
// message id, in which case nothing is replied or audited.
func (d *Dispatcher) Handle(ctx context.Context, msg model.InboundMessage) (reply string, handled bool) {
	if d.deps.Dedup != nil && !d.deps.Dedup.FirstSeen(msg.MessageID) {
		slog.Warn("duplicate message ignored", "message_id", msg.MessageID, "sender", msg.SenderID)
		return "", false
	}

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("message handling panicked",
				"message_id", msg.MessageID,
				"sender", msg.SenderID,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			d.deps.Audit.Append(context.WithoutCancel(ctx), model.AuditRecord{
				UserID:       msg.SenderID,
				CommandType:  model.CommandError,
				Result:       model.ResultSystemError,
				ErrorMessage: fmt.Sprint(rec),
			})
			reply, handled = replySystemError, true
		}
	}()

	decision := d.deps.Limiter.Check(ctx, msg.SenderID, model.CommandMessage, d.cfg.RateLimitPerHour)
	if !decision.Allowed {
		slog.Info("sender rate limited", "sender", msg.SenderID, "used", decision.Used, "limit", decision.Limit)
		return rateLimitedReply(decision, d.deps.Limiter.Window()), true
	}

	cmd := d.deps.Parser.Parse(msg.Body)
	reply = d.route(ctx, msg.SenderID, cmd)

	d.deps.Audit.Append(ctx, model.AuditRecord{
		UserID:          msg.SenderID,
		CommandType:     model.CommandMessage,
		Path:            cmd.Path,
		DestinationPath: cmd.DestinationPath,
		Result:          model.ResultProcessed,
		Extra: map[string]any{
			"message_id":           msg.MessageID,
			"profile_name":         msg.ProfileName,
			"intent":               string(cmd.Intent),
			"response_length":      utf8.RuneCountInString(reply),
			"rate_limit_remaining": decision.Remaining,
		},
	})

	return reply, true
}

func (d *Dispatcher) route(ctx context.Context, userID string, cmd model.Command) string {
	if (cmd.Intent == model.IntentDelete || cmd.Intent == model.IntentInvalid) && d.deps.Gate.IsConfirmation(userID, cmd.RawText) {
		return d.handleConfirmation(ctx, userID, cmd)
	}

	if cmd.Intent.RequiresPath() && cmd.Path == "" {
		cmd = model.Command{Intent: model.IntentInvalid, RawText: cmd.RawText, ErrorDetail: model.ErrPathRequired.Error()}
	}

	switch cmd.Intent {
	case model.IntentHelp:
		return d.helpReply()
	case model.IntentList:
		return d.handleList(ctx, userID, cmd)
	case model.IntentDelete:
		return d.handleDeleteRequest(ctx, userID, cmd)
	case model.IntentMove:
		return d.handleMove(ctx, userID, cmd)
	case model.IntentSummary:
		return d.handleSummary(ctx, userID, cmd)
	default:
		d.deps.Audit.Append(ctx, model.AuditRecord{
			UserID:       userID,
			CommandType:  string(model.IntentInvalid),
			Result:       model.ResultFailed,
			ErrorMessage: cmd.ErrorDetail,
			Extra:        map[string]any{"raw_text": truncateRunes(cmd.RawText, 100)},
		})
		return invalidReply(cmd.ErrorDetail)
	}
}

// ensureAuthenticated makes one authentication attempt when the backend is
// not yet authenticated. It returns the reply to send on failure.
func (d *Dispatcher) ensureAuthenticated(ctx context.Context, userID string, commandType string, cmd model.Command) (string, bool) {
	if d.deps.Storage.Authenticated() {
		return "", true
	}

	err := d.call(ctx, func(callCtx context.Context) error {
		return d.deps.Storage.Authenticate(callCtx)
	})
	if err == nil {
		return "", true
	}

	slog.Error("storage authentication failed", "sender", userID, "error", err)
	d.deps.Audit.Append(ctx, model.AuditRecord{
		UserID:          userID,
		CommandType:     commandType,
		Path:            cmd.Path,
		DestinationPath: cmd.DestinationPath,
		Result:          model.ResultAuthFailed,
		ErrorMessage:    err.Error(),
	})
	return replyAuthFailed, false
}

// call bounds fn by the collaborator timeout. A deadline hit is reported as
// ErrTimeout so callers audit it as an ordinary failure.
func (d *Dispatcher) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.CollaboratorTimeout)
	defer cancel()

	err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", model.ErrTimeout, d.cfg.CollaboratorTimeout)
	}
	return err
}

func (d *Dispatcher) publish(typ event.Type, actor string, payload any) {
	if d.deps.Bus == nil {
		return
	}
	d.deps.Bus.Publish(event.Event{Type: typ, ActorID: actor, Payload: payload})
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
