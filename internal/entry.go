// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/pinboard/internal/api"
	"github.com/starford/pinboard/internal/bridge"
	"github.com/starford/pinboard/internal/coordinator"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/sse"
	"github.com/starford/pinboard/internal/store"
)

// newApplication applies opts and checks the result.
func newApplication(opts []Option) (*application, error) {
	app := &application{out: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// newLogger builds the structured JSON logger. Commands that own stdout
// log to stderr instead.
func newLogger(cfg *Config, stderr bool) *slog.Logger {
	w := os.Stdout
	if stderr {
		w = os.Stderr
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

// openStore returns the shared store adapter. The engine opens lazily.
func openStore(cfg *Config, logger *slog.Logger) *store.Adapter {
	return store.NewAdapter(func() (store.Engine, error) {
		logger.Info("Opening store",
			slog.String("backend", cfg.Store.Backend),
			slog.String("path", cfg.Store.Path))
		return store.Open(cfg.Store.Backend, cfg.Store.Path, logger)
	})
}

// Run starts the card coordinator, its HTTP API and event stream, restores
// every stored card and blocks until a shutdown signal or ctx ends.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := newLogger(cfg, false)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("store_path", cfg.Store.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	adapter := openStore(cfg, logger)
	defer func() {
		if err := adapter.Close(); err != nil {
			logger.Error("store close error", slog.String("error", err.Error()))
		}
	}()

	broker := sse.NewBroker(2 * time.Second)
	br := bridge.New(broker, logger, cfg.Bridge.Timeout, bridge.WithReadyTimeout(cfg.Bridge.ReadyTimeout))
	coord := coordinator.New(adapter, br,
		coordinator.WithLogger(logger),
		coordinator.WithPublisher(broker),
		coordinator.WithCloseTimeout(cfg.Save.CloseTimeout),
	)
	defer coord.Close()

	apiRouter := api.NewRouter(api.NewHandler(coord, br, adapter), cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
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
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := adapter.Engine(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"store unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)
	restoreCtx, stopRestore := context.WithCancel(gCtx)
	defer stopRestore()

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Reopen every stored card. Windows come up as presentation clients
	// connect to the event stream and answer the open requests.
	g.Go(func() error {
		n, err := coord.RestoreAll(restoreCtx)
		if err != nil {
			logger.Warn("restore failed", slog.String("error", err.Error()))
			return nil
		}
		logger.Info("Cards restored", slog.Int("count", n))
		return nil
	})

	// Watch the card directory for edits made outside the process.
	if cfg.Store.Backend == store.BackendFiles {
		g.Go(func() error {
			engine, err := adapter.Engine()
			if err != nil {
				logger.Warn("watcher not started", slog.String("error", err.Error()))
				return nil
			}
			fs, ok := engine.(*store.FS)
			if !ok {
				return nil
			}
			if err := fs.Watch(gCtx, logger, func(kind string, id models.CardID) {
				coord.ExternalChange(kind, id)
			}); err != nil {
				logger.Warn("watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 2)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		stopRestore()

		// A second signal stops waiting on pending saves.
		drainCtx, cancelDrain := context.WithCancel(context.Background())
		defer cancelDrain()
		go func() {
			select {
			case <-quit:
				logger.Warn("Second signal, abandoning pending saves")
				cancelDrain()
			case <-drainCtx.Done():
			}
		}()

		logger.Info("Closing cards...")
		err := coord.Shutdown(drainCtx, cfg.Save.SlowAfter, func(context.Context) bool {
			logger.Warn("Saves still pending; send another signal to quit without waiting")
			return true
		})
		if err != nil {
			logger.Error("card shutdown error", slog.String("error", err.Error()))
		}

		logger.Info("Shutting down server...")
		broker.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
