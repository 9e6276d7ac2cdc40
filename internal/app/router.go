// Package app wires configuration, adapters and usecases into runnable
// servers.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/octup/sentinel/internal/adapter/httpserver"
	"github.com/octup/sentinel/internal/config"
	"github.com/octup/sentinel/internal/observability"
)

// ParseOrigins splits a comma-separated origin list, trimming spaces; empty
// input allows all origins.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middleware and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.CorrelationID())
	r.Use(httpserver.TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(httpserver.BodyLimit(cfg.MaxRequestBodyBytes))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{httpserver.HeaderCorrelation},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Tenant-scoped API: ingestion is rate-limited per tenant.
	r.Group(func(tr chi.Router) {
		tr.Use(httpserver.RequireTenant())
		tr.Group(func(ir chi.Router) {
			ir.Use(httprate.Limit(cfg.IngestRatePerMin, time.Minute,
				httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
					return r.Header.Get(httpserver.HeaderTenant), nil
				})))
			ir.Post("/ingest/{source:shopify|wms|carrier}", srv.IngestEvent)
			ir.Post("/ingest/v2/events/batch", srv.IngestBatch)
		})

		tr.Get("/exceptions", srv.ListExceptions)
		tr.Get("/exceptions/stats/summary", srv.ExceptionStats)
		tr.Get("/exceptions/{id}", srv.GetException)
		tr.Patch("/exceptions/{id}", srv.PatchException)
		tr.Post("/exceptions/{id}/resolve", srv.ResolveException)
	})

	// Operational surface: no tenant header required.
	r.Get("/healthz", srv.Healthz)
	r.Get("/readyz", srv.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/api/health", srv.ServiceHealth)
	r.Get("/api/health/{service}", srv.ServiceHealth)

	if cfg.AdminEnabled() {
		r.Route("/admin", func(ar chi.Router) {
			ar.Use(httpserver.RequireAdmin(cfg.JWTSecret))
			ar.Post("/replay", srv.AdminReplay)
			ar.Get("/dlq/stats", srv.AdminDLQStats)
			ar.Post("/dlq/cleanup", srv.AdminDLQCleanup)
			ar.Post("/ai/lint-policy", srv.AdminLintPolicy)
			ar.Post("/cache/clear", srv.AdminCacheClear)
			ar.Get("/system/health", srv.AdminSystemHealth)
		})
	}

	return httpserver.SecurityHeaders(r)
}
