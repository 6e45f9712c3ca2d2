package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"drive-relay/internal/audit"
	"drive-relay/internal/auth"
	"drive-relay/internal/config"
	"drive-relay/internal/confirm"
	"drive-relay/internal/database"
	"drive-relay/internal/dedup"
	"drive-relay/internal/dispatcher"
	"drive-relay/internal/event"
	"drive-relay/internal/handler"
	"drive-relay/internal/middleware"
	"drive-relay/internal/ratelimit"
	"drive-relay/internal/router"
	"drive-relay/internal/storage"
	"drive-relay/internal/summarize"
	"drive-relay/internal/summarize/anthropic"
	"drive-relay/internal/summarize/openai"
	"drive-relay/internal/websocket"
)

type App struct {
	server       *http.Server
	background   context.CancelFunc
	wg           sync.WaitGroup
	cleanupFuncs []func()
}

func New(cfg *config.Config) (*App, error) {
	a := &App{}

	store, err := a.openAuditStore(cfg)
	if err != nil {
		a.cleanup()
		return nil, err
	}

	drive, err := storage.NewDrive(cfg.StorageRoot, cfg.TrashRoot)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := drive.Authenticate(context.Background()); err != nil {
		// The dispatcher retries on the first command that needs storage.
		slog.Warn("storage not authenticated at startup", "error", err)
	}

	issuer, err := auth.NewIssuer(cfg.AdminJWTSecret, cfg.AdminTokenTTL)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize token issuer: %w", err)
	}

	bus := event.NewBus()
	gate := confirm.NewGate(cfg.ConfirmationExpire)
	trail := audit.NewTrail(store, audit.WithBus(bus), audit.WithPendingSource(gate.Pending))
	limiter := ratelimit.New(trail, trail,
		ratelimit.WithWindow(cfg.RateLimitWindow),
		ratelimit.WithFailOpen(cfg.RateLimitFailOpen),
	)
	seen := dedup.New(cfg.DedupTTL, cfg.DedupMaxEntries)
	summarizer := summarize.New(cfg.MaxContentLength, slog.Default(), summarizeBackends(cfg)...)

	relay := dispatcher.New(dispatcher.Config{
		RateLimitPerHour:    cfg.RateLimitPerHour,
		CollaboratorTimeout: cfg.CollaboratorTimeout,
		MaxFilesPerSummary:  cfg.MaxFilesPerSummary,
	}, dispatcher.Dependencies{
		Dedup:      seen,
		Limiter:    limiter,
		Gate:       gate,
		Audit:      trail,
		Storage:    drive,
		Summarizer: summarizer,
		Bus:        bus,
	})

	hub := websocket.NewHub(bus)

	bgCtx, cancel := context.WithCancel(context.Background())
	a.background = cancel
	a.goBackground(func() { hub.Run(bgCtx) })
	a.goBackground(func() { seen.StartSweeper(bgCtx, cfg.DedupSweepInterval) })
	a.goBackground(func() { sweepConfirmations(bgCtx, gate, time.Minute) })

	appRouter := router.New(cfg, middleware.NewAuthMiddleware(issuer), router.Handlers{
		Webhook: handler.NewWebhookHandler(relay),
		Health:  handler.NewHealthHandler(trail, drive, summarizer, seen),
		Audit:   handler.NewAuditHandler(trail, hub),
		Admin:   handler.NewAdminHandler(drive, trail, drive.Trash()),
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	slog.Info("relay configured",
		"audit_backend", store.Name(),
		"storage_root", drive.RootAbs(),
		"summarizers", summarizer.Services(),
		"rate_limit_per_hour", cfg.RateLimitPerHour,
	)
	return a, nil
}

func (a *App) openAuditStore(cfg *config.Config) (audit.Store, error) {
	switch cfg.AuditBackend {
	case config.AuditBackendPostgres:
		slog.Info("connecting to PostgreSQL")
		db, err := database.New(context.Background(), cfg.DatabaseURL, database.PoolOptions{
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

		if err := db.EnsureSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to ensure database schema: %w", err)
		}
		return audit.NewPostgresStore(db.Pool, cfg.AuditMaxEntries), nil

	case config.AuditBackendSQLite:
		store, err := audit.NewSQLiteStore(context.Background(), cfg.SQLitePath, cfg.AuditMaxEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite audit store: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = store.Close() })
		return store, nil

	case config.AuditBackendMemory:
		return audit.NewMemoryStore(cfg.AuditMaxEntries), nil

	default:
		store, err := audit.NewFileStore(cfg.AuditLogFile, cfg.AuditMaxEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		return store, nil
	}
}

func summarizeBackends(cfg *config.Config) []summarize.Backend {
	var backends []summarize.Backend
	if cfg.OpenAIAPIKey != "" {
		backends = append(backends, openai.New(openai.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.CollaboratorTimeout,
		}, slog.Default()))
	}
	if cfg.AnthropicAPIKey != "" {
		backends = append(backends, anthropic.New(anthropic.Config{
			APIKey:  cfg.AnthropicAPIKey,
			BaseURL: cfg.AnthropicBaseURL,
			Model:   cfg.AnthropicModel,
			Timeout: cfg.CollaboratorTimeout,
		}, slog.Default()))
	}
	return backends
}

func sweepConfirmations(ctx context.Context, gate *confirm.Gate, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := gate.Sweep(); removed > 0 {
				slog.Debug("expired confirmations removed", "removed", removed)
			}
		}
	}
}

func (a *App) goBackground(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

// Run serves until SIGINT or SIGTERM, then drains in-flight requests
// before stopping background workers and closing stores.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			a.shutdownBackground()
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := a.server.Shutdown(shutdownCtx)
	a.shutdownBackground()
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

func (a *App) shutdownBackground() {
	if a.background != nil {
		a.background()
	}
	a.wg.Wait()
	a.cleanup()
}

func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}
