package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/varghand/varghand-admin-go/internal/domain"
	"github.com/varghand/varghand-admin-go/internal/infra/observability"
	"github.com/varghand/varghand-admin-go/internal/service"
)

var tracer = otel.Tracer("handler")

// Pinger reports whether a dependency is reachable. The SQLite store
// implements it for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter creates the HTTP router with all routes and middleware. Every
// /v1 route sits behind employee authentication (see AuthMiddleware).
func NewRouter(salesSvc *service.SalesService, entSvc *service.EntitlementService, store Pinger, authCfg AuthConfig, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(store))
	r.Get("/readyz", readyzHandler(store))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(authCfg, entSvc, logger))

		// Sales & royalty reporting
		r.Get("/sales", getSalesHandler(salesSvc, logger))
		r.Get("/royalty-report", getRoyaltyReportHandler(salesSvc, logger))

		// Entitlements
		r.Get("/users/{userId}", getUserHandler(entSvc, logger))
		r.Post("/users/{userId}/unlocks", addUnlockHandler(entSvc, logger))
		r.Delete("/users/{userId}/unlocks", removeUnlockHandler(entSvc, logger))

		// Activation codes
		r.Get("/activation-codes/stats", activationCodeStatsHandler(entSvc, logger))
		r.Post("/activation-codes", createActivationCodesHandler(entSvc, logger))

		// Metrics snapshot
		r.Get("/metrics/report", reportMetricsHandler(metrics))
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "admin-api", Status: "healthy", LatencyMs: 0, LastChecked: now},
		}

		start := time.Now()
		status := "healthy"
		if err := store.Ping(r.Context()); err != nil {
			status = "unhealthy"
		}
		services = append(services, domain.ServiceHealth{
			Name:        "sqlite",
			Status:      status,
			LatencyMs:   time.Since(start).Milliseconds(),
			LastChecked: now,
		})

		overall := "healthy"
		for _, s := range services {
			if s.Status == "unhealthy" {
				overall = "unhealthy"
				break
			}
			if s.Status == "degraded" {
				overall = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overall,
			Services: services,
		})
	}
}

func readyzHandler(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func reportMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetReportSnapshot())
	}
}
