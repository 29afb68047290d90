// Package server exposes one tile layer over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stenvall/tilecache/internal/core/health"
	"github.com/stenvall/tilecache/internal/core/middleware"
	"github.com/stenvall/tilecache/internal/layer"
)

type Options struct {
	// Metrics serves /metrics; nil falls back to the default registry.
	Metrics http.Handler
	Checks  []health.Check
}

func NewRouter(logger *slog.Logger, lyr layer.Configuration, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	metrics := opts.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(2*time.Second, opts.Checks...))
	r.Method(http.MethodGet, "/metrics", metrics)
	r.Get("/stats", HandleStats(lyr))
	r.Get("/tiles/{z}/{x}/{y}", HandleTile(logger, lyr))
	return r
}

// sets up http and starts serving until ctx ends
func Run(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
