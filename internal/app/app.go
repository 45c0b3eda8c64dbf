// Package app wires the chat subsystem together: store, connection
// registry, presence, assistant guide, router, HTTP surface, and the
// retention scheduler.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"supportchat/internal/retention"
	"supportchat/pkg/assistant"
	"supportchat/pkg/chat"
	"supportchat/pkg/config"
	"supportchat/pkg/logger"
	"supportchat/pkg/presence"
	"supportchat/pkg/progressor"
	"supportchat/pkg/registry"
	"supportchat/pkg/shutdown"
	"supportchat/pkg/state"
	"supportchat/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg       *config.Config
	dbPath    string
	version   string
	commit    string
	buildDate string

	reg    *registry.Registry
	router *chat.Router

	srv *http.Server
}

// New initializes resources that do not require a running context (state
// dirs, store, migrations, router). Call Run to start the HTTP server and
// block until shutdown.
func New(cfg *config.Config, dbPath, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(cfg, dbPath); err != nil {
		return nil, err
	}

	if err := state.EnsureStateDirs(dbPath); err != nil {
		return nil, fmt.Errorf("failed to prepare state dirs under %s: %w", dbPath, err)
	}

	storePath := filepath.Join(dbPath, "store")
	if err := store.Open(storePath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", storePath, err)
	}

	if _, err := progressor.Run(context.Background(), version); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	reg := registry.New()
	ttl := cfg.TypingTTL()
	if ttl == 0 {
		ttl = presence.DefaultTTL
	}
	router := chat.New(reg, presence.NewTracker(ttl), assistant.NewGuide(), chat.Options{
		MaxMessageBytes: cfg.Chat.MaxMessageBytes,
	})

	return &App{
		cfg:       cfg,
		dbPath:    dbPath,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		reg:       reg,
		router:    router,
	}, nil
}

// Router exposes the chat router for admin triggers and tests.
func (a *App) Router() *chat.Router { return a.router }

// Run starts the retention scheduler and the HTTP server, and blocks until
// ctx is canceled or a fatal server error occurs. Resources are released
// before returning.
func (a *App) Run(ctx context.Context) error {
	retCancel, err := retention.Start(ctx, a.cfg, a.router)
	if err != nil {
		return err
	}
	defer retCancel()

	a.printBanner()

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

// shutdown drains in order: stop accepting requests, close live websocket
// connections, then close the store.
func (a *App) shutdown() {
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.srv != nil {
		if err := a.srv.Shutdown(sctx); err != nil {
			logger.Warn("http_shutdown_error", "error", err)
		}
	}
	a.reg.CloseAll("server shutting down")
	if err := store.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	if p, err := shutdown.RequestExitFile("graceful shutdown"); err == nil {
		logger.Info("exit_request_written", "path", p)
	}
	logger.Info("shutdown_complete")
}

// validateConfig fails fast on settings that would only surface as runtime
// errors later.
func validateConfig(cfg *config.Config, dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("db path must not be empty")
	}
	if cfg.Chat.MaxMessageBytes < 0 {
		return fmt.Errorf("chat.max_message_bytes must not be negative")
	}
	if cfg.Security.RateLimit.RPS < 0 || cfg.Security.RateLimit.Burst < 0 {
		return fmt.Errorf("security.rate_limit values must not be negative")
	}
	cert, key := cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile
	if (cert == "") != (key == "") {
		return fmt.Errorf("server.tls requires both cert_file and key_file")
	}
	return nil
}
