package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/notehub/internal/notestore"
)

// RunStore serves a SQLite-backed note store under /api, for local
// development against "notehub serve".
func RunStore(ctx context.Context, opts ...Option) error {
	app, logger, err := setup(opts)
	if err != nil {
		return err
	}
	cfg := app.config.Store

	logger.Info("Store configuration loaded",
		slog.String("http_address", cfg.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite),
		slog.String("shape", cfg.Shape),
		slog.Bool("auth", cfg.Token != ""))

	db, err := notestore.Open(cfg.SQLite)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Mount("/api", notestore.NewRouter(db, cfg.Token, cfg.Shape))

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting store server", slog.String("address", cfg.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("store server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		waitForShutdown(gCtx, logger)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("store server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Store error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("Store stopped")
	return nil
}
