// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notehub/internal/api"
	"github.com/starford/notehub/internal/credential"
	"github.com/starford/notehub/internal/metrics"
	"github.com/starford/notehub/internal/models"
	"github.com/starford/notehub/internal/notehub"
	"github.com/starford/notehub/internal/session"
	"github.com/starford/notehub/internal/sse"
)

// setup applies opts and builds the structured JSON logger.
func setup(opts []Option) (*application, *slog.Logger, error) {
	app := &application{
		version:   "dev",
		logOutput: os.Stderr,
		output:    os.Stdout,
	}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return app, logger, nil
}

// connect builds the store client. When the token comes from a file, the
// returned *credential.File must be watched to pick up rotations.
func connect(cfg NotehubConfig, logger *slog.Logger) (*notehub.Client, *credential.File, error) {
	var (
		src  credential.Source = credential.Static(cfg.Token)
		file *credential.File
	)
	if cfg.TokenFile != "" {
		f, err := credential.LoadFile(cfg.TokenFile)
		if err != nil {
			return nil, nil, err
		}
		src, file = f, f
	}

	client := notehub.New(cfg.BaseURL,
		notehub.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		notehub.WithCredentials(src),
		notehub.WithLogger(logger),
	)
	return client, file, nil
}

// Run serves the local API: view state, mutations, the SSE stream and metrics.
func Run(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("notehub_url", cfg.Notehub.BaseURL),
		slog.Int("per_page", cfg.Notehub.PerPage),
		slog.String("auth_mode", cfg.Auth.Mode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	client, tokenFile, err := connect(cfg.Notehub, logger)
	if err != nil {
		return fmt.Errorf("init notehub client: %w", err)
	}

	m := metrics.New()

	broker := sse.NewBroker(sse.WithRecorder(m))
	defer broker.Close()

	sess := session.New(client, cfg.Notehub.PerPage,
		session.WithStaleAfter(cfg.Notehub.StaleAfter),
		session.WithLogger(logger),
		session.WithRecorder(m),
		session.OnCreated(func(n models.Note) {
			broker.PublishNoteEvent(sse.TypeNoteCreated, n.ID)
		}),
		session.OnDeleted(func(id string) {
			broker.PublishNoteEvent(sse.TypeNoteDeleted, id)
		}),
	)
	defer sess.Close()

	apiRouter := api.NewRouter(sess, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	// Ready once the current page has loaded from the store.
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		v := sess.CurrentView()
		switch {
		case v.Error:
			writeStatus(w, http.StatusServiceUnavailable, "store unavailable")
		case v.Loading && v.PageCount == 0 && !v.Stale:
			writeStatus(w, http.StatusServiceUnavailable, "loading")
		default:
			writeStatus(w, http.StatusOK, "ok")
		}
	})
	r.Handle("/metrics", m.Handler())

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		api.StreamViews(gCtx, sess, broker)
		return nil
	})

	if tokenFile != nil {
		g.Go(func() error {
			return tokenFile.Watch(gCtx, logger)
		})
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		waitForShutdown(gCtx, logger)
		cancel()

		logger.Info("Shutting down server...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
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

// waitForShutdown blocks until SIGINT, SIGTERM or ctx is done.
func waitForShutdown(ctx context.Context, logger *slog.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown")
	}
}

func writeStatus(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, msg)
}

// out returns the writer one-shot commands print to.
func (a *application) out() io.Writer {
	if a.output == nil {
		return io.Discard
	}
	return a.output
}
