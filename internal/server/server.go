package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Berto-e/spiderfy/internal/health"
)

// Routes assembles the router. Split out from Run so tests can drive the
// full middleware chain through httptest without binding a port.
func Routes(logger *slog.Logger, api *API, rr health.ReadinessReporter) *chi.Mux {
	r := chi.NewRouter()
	r.Use(Recover())
	r.Use(Logging(logger))
	r.Use(CORS())
	r.Use(Metrics())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(rr))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/points/synthesize", api.Synthesize)
		r.Post("/points/duplicates", api.Duplicates)
		r.Post("/points/spiderfy", api.SpiderfyPoints)
		r.Post("/points/jitter", api.JitterPoints)

		r.Get("/layers", api.GetLayers)
		r.Put("/layers/{layer}", api.PutLayer)
		r.Get("/layers/{layer}", api.GetLayer)
		r.Delete("/layers/{layer}", api.DeleteLayer)
		r.Get("/layers/{layer}/resolved", api.ResolveLayer)
	})

	return r
}

// Run serves until ctx is canceled, then shuts down gracefully.
func Run(ctx context.Context, addr string, logger *slog.Logger, api *API, rr health.ReadinessReporter) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Routes(logger, api, rr),
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
