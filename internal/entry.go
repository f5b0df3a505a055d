// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/tgmonitor/internal/ads"
	"github.com/starford/tgmonitor/internal/api"
	"github.com/starford/tgmonitor/internal/delivery"
	"github.com/starford/tgmonitor/internal/mcpserver"
	"github.com/starford/tgmonitor/internal/models"
	"github.com/starford/tgmonitor/internal/peers"
	"github.com/starford/tgmonitor/internal/protocol/bridge"
	"github.com/starford/tgmonitor/internal/refresh"
	"github.com/starford/tgmonitor/internal/rulecache"
	"github.com/starford/tgmonitor/internal/ruleseed"
	"github.com/starford/tgmonitor/internal/ruleservice"
	"github.com/starford/tgmonitor/internal/rulestore"
	"github.com/starford/tgmonitor/internal/session"
	"github.com/starford/tgmonitor/internal/sse"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{surface: SurfaceHTTP, version: "dev", logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("surface", app.surface),
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("bridge_url", cfg.Telegram.BridgeURL),
		slog.String("proxy", cfg.Proxy.String()),
		slog.Int64("target_id", cfg.Monitor.TargetID),
		slog.String("log_level", cfg.App.LogLevel.String()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Rule store and active rule set.
	db, err := rulestore.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init rule store: %w", err)
	}
	defer db.Close()

	cache := rulecache.New(db, logger)
	rules := ruleservice.NewService(db, cache, logger)
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	var seeder *ruleseed.Seeder
	if cfg.Rules.SeedFile != "" {
		seeder = ruleseed.New(cfg.Rules.SeedFile, rules, db, logger)
		if _, err := seeder.Import(ctx); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Info("seed file not found, skipping", slog.String("path", seeder.Path()))
			} else {
				logger.Warn("seed import failed", slog.String("error", err.Error()))
			}
		}
	}
	if err := cache.Refresh(ctx); err != nil {
		logger.Warn("initial rule load failed", slog.String("error", err.Error()))
	}

	rotator := ads.New(cfg.Ads.URL, cfg.Ads.TTL, nil, logger)
	runner := refresh.New(cfg.Refresh.Interval, cfg.Refresh.Timeout, logger,
		refresh.Task{Name: "rules", Run: cache.Refresh},
		refresh.Task{Name: "ads", Run: rotator.Fetch},
	)

	// Session, directory and delivery.
	dir := peers.NewDirectory()
	coord := delivery.New(dir, cfg.Monitor.SendTimeout, logger)
	coord.SetTarget(cfg.Monitor.TargetID)

	factory := bridge.NewFactory(bridge.Options{
		URL:            cfg.Telegram.BridgeURL,
		Token:          cfg.Telegram.Token,
		SessionName:    cfg.Telegram.SessionName,
		RequestTimeout: cfg.Telegram.RequestTimeout,
		Window:         cfg.Monitor.QueueSize,
	}, logger)

	mgr := session.New(session.Options{
		Factory:        factory,
		Transport:      cfg.Proxy,
		Dir:            dir,
		Rules:          cache,
		Delivery:       coord,
		Ads:            rotator,
		Events:         broker,
		QueueSize:      cfg.Monitor.QueueSize,
		HealthInterval: cfg.Monitor.HealthInterval,
		HandleTimeout:  cfg.Monitor.HandleTimeout,
		Logger:         logger,
	})

	resume(ctx, cfg, mgr, logger)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error { return runner.Run(gCtx) })
	g.Go(func() error { return mgr.Run(gCtx) })

	if seeder != nil && cfg.Rules.Watch {
		if _, err := os.Stat(filepath.Dir(seeder.Path())); err != nil {
			logger.Warn("seed directory missing, not watching", slog.String("path", seeder.Path()))
		} else {
			g.Go(func() error {
				return seeder.Watch(gCtx, func(ruleseed.Result) {
					broker.PublishRuleEvent("imported")
				})
			})
		}
	}

	switch app.surface {
	case SurfaceMCP:
		srv := mcpserver.New(mgr, rules, app.version)
		g.Go(func() error {
			defer cancel()
			logger.Info("Starting MCP server on stdio")
			return srv.ServeStdio()
		})
	default:
		serveHTTP(gCtx, g, cancel, cfg, newRootRouter(cfg, mgr, rules, broker, db), logger)
	}

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// resume logs in with the stored session for the configured phone and
// starts monitoring when autostart is on. Failures leave the operator to
// log in through the admin surface.
func resume(ctx context.Context, cfg *Config, mgr *session.Manager, logger *slog.Logger) {
	if cfg.Telegram.Phone == "" {
		return
	}
	st, err := mgr.Login(ctx, cfg.Telegram.Phone, "")
	if err != nil {
		logger.Warn("session resume failed", slog.String("error", err.Error()))
		return
	}
	logger.Info("session resumed", slog.String("state", st.String()))
	if st != models.SessionAuthenticated || !cfg.Monitor.Autostart {
		return
	}
	out := mgr.StartMonitor(ctx)
	logger.Info("autostart", slog.String("outcome", out.String()))
}

// Pinger reports whether the rule store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StatusSource reports the monitor state.
type StatusSource interface {
	Status() session.Status
}

func newRootRouter(cfg *Config, mgr *session.Manager, rules *ruleservice.Service, broker *sse.Broker, db Pinger) chi.Router {
	apiRouter := api.NewRouter(api.Deps{
		Monitor:     mgr,
		Rules:       rules,
		Events:      broker,
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", readyHandler(mgr, db))

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)
	return r
}

// readyHandler reports 503 when the rule store is unreachable. The session
// and monitor states are included but do not affect the status code.
func readyHandler(src StatusSource, db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		st := src.Status()
		body := map[string]any{
			"status":  "ok",
			"session": st.Session,
			"monitor": st.Monitor,
		}
		code := http.StatusOK
		if err := db.Ping(ctx); err != nil {
			body["status"] = "unavailable"
			body["error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func serveHTTP(ctx context.Context, g *errgroup.Group, cancel context.CancelFunc, cfg *Config, handler http.Handler, logger *slog.Logger) {
	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: handler,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-ctx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}
		cancel()

		logger.Info("Shutting down server...")

		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})
}
