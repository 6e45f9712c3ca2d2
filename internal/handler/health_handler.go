package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"drive-relay/internal/model"
)

const serviceName = "Drive Relay - Chat File Manager"

type healthSource interface {
	Health(ctx context.Context) model.AuditHealth
}

type StorageStatus interface {
	Authenticated() bool
}

type ServiceLister interface {
	Services() []string
}

type Sizer interface {
	Len() int
}

type HealthHandler struct {
	audit      healthSource
	storage    StorageStatus
	summarizer ServiceLister
	dedup      Sizer
}

func NewHealthHandler(audit healthSource, storage StorageStatus, summarizer ServiceLister, dedup Sizer) *HealthHandler {
	return &HealthHandler{audit: audit, storage: storage, summarizer: summarizer, dedup: dedup}
}

type HealthReport struct {
	Status            string            `json:"status"`
	Service           string            `json:"service"`
	Audit             model.AuditHealth `json:"audit"`
	Components        map[string]string `json:"components"`
	ProcessedMessages int               `json:"processed_messages"`
}

// Health answers 200 when the audit store is reachable and 503 otherwise.
// Storage being unauthenticated is reported but does not degrade status.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	auditHealth := h.audit.Health(ctx)

	report := HealthReport{
		Status:  "healthy",
		Service: serviceName,
		Audit:   auditHealth,
		Components: map[string]string{
			"command_parser": "✅ Active",
			"storage":        "⚠️ Not authenticated",
			"summarizer":     fmt.Sprintf("✅ %d services", len(h.summarizer.Services())),
			"audit":          "✅ Active (" + auditHealth.Backend + ")",
		},
	}
	if h.storage.Authenticated() {
		report.Components["storage"] = "✅ Ready"
	}
	if h.dedup != nil {
		report.ProcessedMessages = h.dedup.Len()
	}

	status := http.StatusOK
	if !auditHealth.Reachable {
		report.Status = "degraded"
		report.Components["audit"] = "❌ Unreachable (" + auditHealth.Backend + ")"
		status = http.StatusServiceUnavailable
	}

	writeSuccess(w, status, report, nil)
}
