package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veriqan/internal/health"
)

// HealthService exposes the liveness projection.
type HealthService interface {
	Status(ctx context.Context) health.Status
}

// NewRouter wires all public endpoints. The transport stays thin: handlers
// decode, delegate to domain services, and encode.
func NewRouter(
	reviews *ReviewHandler,
	cs *CaseHandler,
	healthSvc HealthService,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		status := healthSvc.Status(req.Context())
		code := http.StatusOK
		if !status.IsRunning {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	})
	r.Handle("/metrics", promhttp.Handler())

	reviews.Register(r)
	cs.Register(r)

	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
