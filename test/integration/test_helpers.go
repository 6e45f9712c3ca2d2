//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"drive-relay/internal/audit"
	"drive-relay/internal/auth"
	"drive-relay/internal/config"
	"drive-relay/internal/confirm"
	"drive-relay/internal/dedup"
	"drive-relay/internal/dispatcher"
	"drive-relay/internal/event"
	"drive-relay/internal/handler"
	"drive-relay/internal/middleware"
	"drive-relay/internal/model"
	"drive-relay/internal/ratelimit"
	"drive-relay/internal/router"
	"drive-relay/internal/storage"
	"drive-relay/internal/summarize"
	"drive-relay/internal/websocket"
)

type relayEnv struct {
	server    *httptest.Server
	root      string
	drive     *storage.Drive
	trail     *audit.Trail
	adminJWT  string
	messageNo int
}

func newRelayServer(t *testing.T) *relayEnv {
	t.Helper()

	root := filepath.Join(t.TempDir(), "drive")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "ProjectX", "Designs"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "Archive"), 0o755))
	writeFile(t, root, "ProjectX/report.txt", "Quarterly report.\nRevenue grew.\nCosts fell.")
	writeFile(t, root, "ProjectX/notes.md", "# Notes\nShip it.")

	drive, err := storage.NewDrive(root, filepath.Join(t.TempDir(), "trash"))
	require.NoError(t, err)

	store, err := audit.NewFileStore(filepath.Join(t.TempDir(), "audit.jsonl"), 1000)
	require.NoError(t, err)

	bus := event.NewBus()
	gate := confirm.NewGate(confirm.DefaultWindow)
	trail := audit.NewTrail(store, audit.WithBus(bus), audit.WithPendingSource(gate.Pending))
	seen := dedup.New(time.Hour, 1000)
	summarizer := summarize.New(8000, nil)

	relay := dispatcher.New(dispatcher.Config{RateLimitPerHour: 30}, dispatcher.Dependencies{
		Dedup:      seen,
		Limiter:    ratelimit.New(trail, trail),
		Gate:       gate,
		Audit:      trail,
		Storage:    drive,
		Summarizer: summarizer,
		Bus:        bus,
	})

	hub := websocket.NewHub(bus)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	issuer, err := auth.NewIssuer("integration-secret", time.Hour)
	require.NoError(t, err)
	adminJWT, _, err := issuer.Issue("ops", auth.RoleAdmin)
	require.NoError(t, err)

	cfg := &config.Config{
		RequestTimeout:      30 * time.Second,
		CORSOrigins:         []string{"*"},
		WebhookRateLimitRPM: 1000,
		APIRateLimitRPM:     1000,
	}

	server := httptest.NewServer(router.New(cfg, middleware.NewAuthMiddleware(issuer), router.Handlers{
		Webhook: handler.NewWebhookHandler(relay),
		Health:  handler.NewHealthHandler(trail, drive, summarizer, seen),
		Audit:   handler.NewAuditHandler(trail, hub),
		Admin:   handler.NewAdminHandler(drive, trail, drive.Trash()),
	}))
	t.Cleanup(server.Close)

	return &relayEnv{server: server, root: root, drive: drive, trail: trail, adminJWT: adminJWT}
}

func writeFile(t *testing.T, root string, rel string, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

// send posts one webhook delivery and returns the status and raw body.
func (e *relayEnv) send(t *testing.T, sender string, body string) (int, string) {
	t.Helper()
	e.messageNo++
	return e.sendWithID(t, sender, body, fmt.Sprintf("SM%06d", e.messageNo))
}

func (e *relayEnv) sendWithID(t *testing.T, sender string, body string, id string) (int, string) {
	t.Helper()

	form := url.Values{"MessageSid": {id}, "From": {sender}, "Body": {body}, "ProfileName": {"Tester"}}
	resp, err := http.PostForm(e.server.URL+"/webhook/whatsapp", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf strings.Builder
	_, err = io.Copy(&buf, resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf.String()
}

func (e *relayEnv) getJSON(t *testing.T, path string, token string, data any) (int, model.APIResponse) {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, e.server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	envelope := model.APIResponse{Data: data}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return resp.StatusCode, envelope
}
