// Package api provides the HTTP API for readlater data exports.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/readlater/readlater/internal/api/handler"
	"github.com/readlater/readlater/internal/api/middleware"
	"github.com/readlater/readlater/internal/api/response"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics

	Tokens  middleware.TokenValidator
	Exports handler.ExportService

	// ReadinessChecks gate GET /v1/ops/ready.
	ReadinessChecks map[string]handler.Checker
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "readlater-api"
	}

	// Order matters: the request ID must exist before spans and logs use it.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no route for "+r.Method+" "+r.URL.Path)
	})

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.ReadinessChecks)
	gdprHandler := handler.NewGDPRHandler(cfg.Exports, cfg.Logger)

	authMiddleware := middleware.Auth(cfg.Tokens)
	readLimit := middleware.RateLimit(middleware.ExportReadRateLimit)
	createLimit := middleware.RateLimit(middleware.ExportCreateRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
		})

		r.Route("/gdpr/export-requests", func(r chi.Router) {
			r.Use(authMiddleware)
			r.With(createLimit).Post("/", gdprHandler.CreateExportRequest)
			r.Group(func(r chi.Router) {
				r.Use(readLimit)
				r.Get("/", gdprHandler.ListExportRequests)
				r.Get("/{exportRequestId}", gdprHandler.GetExportRequest)
				r.Get("/{exportRequestId}/archive", gdprHandler.DownloadExportArchive)
			})
		})
	})

	return r
}
