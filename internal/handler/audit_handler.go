package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"drive-relay/internal/event"
	"drive-relay/internal/model"
	"drive-relay/pkg/apierror"
)

const (
	defaultQueryLimit = 50
	maxQueryLimit     = 500
	defaultStatsDays  = 7
)

type AuditReader interface {
	Query(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error)
	Statistics(ctx context.Context, userID string, days int) (model.UserStatistics, error)
}

type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, types []event.Type) error
}

type AuditHandler struct {
	audit  AuditReader
	stream Streamer
}

func NewAuditHandler(audit AuditReader, stream Streamer) *AuditHandler {
	return &AuditHandler{audit: audit, stream: stream}
}

// List filters by user, type, result and an RFC 3339 since/until window.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := model.AuditFilter{
		UserID:      strings.TrimSpace(query.Get("user")),
		CommandType: strings.ToUpper(strings.TrimSpace(query.Get("type"))),
		Result:      strings.ToLower(strings.TrimSpace(query.Get("result"))),
		Limit:       parseIntOrDefault(query.Get("limit"), defaultQueryLimit),
	}
	if filter.Limit <= 0 || filter.Limit > maxQueryLimit {
		writeError(w, apierror.Wrap(model.ErrInvalidInput, "BAD_REQUEST", "limit out of range", fmt.Sprintf("1..%d", maxQueryLimit), http.StatusBadRequest))
		return
	}

	var err error
	if filter.Since, err = parseTimeParam(query.Get("since")); err != nil {
		writeError(w, err)
		return
	}
	if filter.Until, err = parseTimeParam(query.Get("until")); err != nil {
		writeError(w, err)
		return
	}

	entries, err := h.audit.Query(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, entries, &model.Meta{Limit: filter.Limit, Total: len(entries)})
}

// Stats reports one sender's activity. Bare numbers get a leading "+".
func (h *AuditHandler) Stats(w http.ResponseWriter, r *http.Request) {
	user := normalizeSender(chi.URLParam(r, "user"))
	if user == "" {
		writeError(w, apierror.Wrap(model.ErrInvalidInput, "BAD_REQUEST", "user is required", "", http.StatusBadRequest))
		return
	}

	days := parseIntOrDefault(r.URL.Query().Get("days"), defaultStatsDays)
	if days <= 0 {
		days = defaultStatsDays
	}

	stats, err := h.audit.Statistics(r.Context(), user, days)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, stats, nil)
}

// Stream upgrades to a websocket feed. types narrows the feed to a comma
// separated list of event types.
func (h *AuditHandler) Stream(w http.ResponseWriter, r *http.Request) {
	var types []event.Type
	for _, raw := range strings.Split(r.URL.Query().Get("types"), ",") {
		if raw = strings.TrimSpace(raw); raw != "" {
			types = append(types, event.Type(raw))
		}
	}

	if err := h.stream.Serve(w, r, types); err != nil {
		// The upgrader has already written the HTTP error.
		slog.Warn("audit stream upgrade failed", "error", err)
	}
}

// normalizeSender restores the "+" that URL paths tend to lose, keeping any
// channel prefix such as "whatsapp:".
func normalizeSender(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	prefix, number, found := strings.Cut(raw, ":")
	if !found {
		prefix, number = "", raw
	} else {
		prefix += ":"
	}
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return prefix + number
}

func parseTimeParam(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apierror.Wrap(model.ErrInvalidInput, "BAD_REQUEST", "invalid timestamp", raw, http.StatusBadRequest)
	}
	return t, nil
}
