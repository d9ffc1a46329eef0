// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"crypto/tls"
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

	"github.com/fuzzmatch/trigramd/internal/api"
	"github.com/fuzzmatch/trigramd/internal/executor"
	"github.com/fuzzmatch/trigramd/internal/indexing"
	"github.com/fuzzmatch/trigramd/internal/mcpserver"
	"github.com/fuzzmatch/trigramd/internal/metrics"
	"github.com/fuzzmatch/trigramd/internal/search"
	"github.com/fuzzmatch/trigramd/internal/sse"
	"github.com/fuzzmatch/trigramd/internal/store"
	"github.com/fuzzmatch/trigramd/internal/tlsutil"
)

// Run starts the HTTPS server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("db_driver", cfg.DB.Driver),
		slog.Int("max_retries", cfg.Retry.MaxAttempts),
		slog.Int("staleness_offset_s", cfg.Staleness.OffsetSeconds),
		slog.Bool("stale_reads", cfg.Staleness.StaleReads),
		slog.String("log_level", cfg.App.LogLevel.String()))

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	exec := executor.New(st,
		executor.WithMaxAttempts(cfg.Retry.MaxAttempts),
		executor.WithStaleOffset(cfg.Staleness.Offset()),
		executor.WithLogger(logger))

	broker := sse.NewBroker()
	defer broker.Close()

	indexer := indexing.New(exec, logger, broker)
	engine := search.New(exec, logger, cfg.Staleness.StaleReads)

	handler := api.NewHandler(indexer, engine, exec, logger)
	apiRouter := api.NewRouter(handler, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

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
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", metrics.Handler())
	r.Mount("/", apiRouter)

	tlsConfig, reloader, err := serverTLS(cfg, logger)
	if err != nil {
		return fmt.Errorf("init tls: %w", err)
	}

	httpServer := &http.Server{
		Addr:      cfg.App.HTTP.Address(),
		Handler:   r,
		TLSConfig: tlsConfig,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// Certificate hot reload, when serving managed files.
	if reloader != nil {
		g.Go(func() error {
			reloader.Watch(gCtx)
			return nil
		})
	}

	// Gram-version sweeper: drop closed versions that aged out of the
	// retention window. Open versions are never touched, so a deleted
	// record's current gram set persists indefinitely.
	g.Go(func() error {
		sweep(gCtx, exec, cfg.Retention.SweepInterval(), cfg.Retention.Keep(), logger)
		return nil
	})

	// Start HTTPS server.
	g.Go(func() error {
		logger.Info("Starting HTTPS server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPS server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

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

// RunMCP serves the MCP tools over stdio.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// MCP owns stdout; log to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	exec := executor.New(st,
		executor.WithMaxAttempts(cfg.Retry.MaxAttempts),
		executor.WithStaleOffset(cfg.Staleness.Offset()),
		executor.WithLogger(logger))

	srv := mcpserver.New(
		indexing.New(exec, logger, nil),
		search.New(exec, logger, cfg.Staleness.StaleReads))
	return srv.ServeStdio()
}

func openStore(cfg *Config) (store.Store, error) {
	switch cfg.DB.Driver {
	case DriverMemory:
		return store.NewMemory(), nil
	default:
		return store.OpenSQLite(cfg.DB.DSN)
	}
}

// serverTLS builds the listener TLS config: managed cert files with hot
// reload when configured, otherwise an ephemeral self-signed certificate
// (adhoc mode).
func serverTLS(cfg *Config, logger *slog.Logger) (*tls.Config, *tlsutil.Reloader, error) {
	if cfg.App.HTTP.TLS.FromFiles() {
		reloader, err := tlsutil.NewReloader(cfg.App.HTTP.TLS.CertFile, cfg.App.HTTP.TLS.KeyFile, logger)
		if err != nil {
			return nil, nil, err
		}
		return &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: reloader.GetCertificate,
		}, reloader, nil
	}

	cert, err := tlsutil.SelfSigned()
	if err != nil {
		return nil, nil, err
	}
	logger.Info("serving with ephemeral self-signed certificate")
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil, nil
}

// sweep prunes aged-out gram versions on a fixed cadence until ctx ends.
func sweep(ctx context.Context, exec *executor.Executor, interval, keep time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var removed int64
			err := exec.Execute(ctx, store.Write, func(tx store.Tx) error {
				var err error
				removed, err = tx.PruneVersions(ctx, time.Now().Add(-keep))
				return err
			})
			if err != nil {
				logger.Warn("sweep failed", slog.String("error", err.Error()))
				continue
			}
			if removed > 0 {
				logger.Debug("sweep removed gram versions", slog.Int64("removed", removed))
			}
		}
	}
}
