package handler

import (
	"context"
	"net/http"

	"drive-relay/internal/middleware"
	"drive-relay/internal/model"
)

type StorageAuthenticator interface {
	Authenticate(ctx context.Context) error
	Authenticated() bool
}

type AuditAppender interface {
	Append(ctx context.Context, rec model.AuditRecord) string
}

type TrashLister interface {
	Records() ([]model.TrashRecord, error)
}

type AdminHandler struct {
	storage StorageAuthenticator
	audit   AuditAppender
	trash   TrashLister
}

// NewAdminHandler accepts a nil trash for backends without one.
func NewAdminHandler(storage StorageAuthenticator, audit AuditAppender, trash TrashLister) *AdminHandler {
	return &AdminHandler{storage: storage, audit: audit, trash: trash}
}

type authenticateData struct {
	Authenticated bool   `json:"authenticated"`
	Message       string `json:"message"`
	AuditLogID    string `json:"audit_log_id"`
}

// AuthenticateStorage retries storage authentication on operator request.
func (h *AdminHandler) AuthenticateStorage(w http.ResponseWriter, r *http.Request) {
	actor := "admin"
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		actor = claims.Subject
	}

	err := h.storage.Authenticate(r.Context())
	rec := model.AuditRecord{
		UserID:      actor,
		CommandType: model.CommandStorageAuth,
		Result:      model.ResultSuccess,
	}
	if err != nil {
		rec.Result = model.ResultFailed
		rec.ErrorMessage = err.Error()
	}
	logID := h.audit.Append(r.Context(), rec)

	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, authenticateData{
		Authenticated: true,
		Message:       "Storage authenticated successfully",
		AuditLogID:    logID,
	}, nil)
}

func (h *AdminHandler) Trash(w http.ResponseWriter, r *http.Request) {
	if h.trash == nil {
		writeSuccess(w, http.StatusOK, []model.TrashRecord{}, &model.Meta{})
		return
	}

	records, err := h.trash.Records()
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, records, &model.Meta{Limit: len(records), Total: len(records)})
}
