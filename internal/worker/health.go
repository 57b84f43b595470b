package worker

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/readlater/readlater/internal/api/handler"
	"github.com/readlater/readlater/internal/api/middleware"
	"github.com/readlater/readlater/internal/api/models"
	"github.com/readlater/readlater/internal/api/response"
)

// Check implements handler.Checker. It fails once any consumer has stopped.
func (w *Worker) Check(_ context.Context) error {
	for _, c := range w.consumers {
		select {
		case <-c.Done():
			return fmt.Errorf("consumer %s stopped", c.Name())
		default:
		}
	}
	return nil
}

// HealthRouterConfig holds configuration for the worker's health server.
type HealthRouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger

	// Checks gate readiness in addition to the consumers.
	Checks map[string]handler.Checker
}

// NewHealthRouter serves GET /health with consumer stats and GET /ready.
func NewHealthRouter(w *Worker, cfg HealthRouterConfig) http.Handler {
	checks := map[string]handler.Checker{"consumers": w}
	for name, c := range cfg.Checks {
		checks[name] = c
	}
	ops := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, checks)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))

	r.Get("/health", func(rw http.ResponseWriter, req *http.Request) {
		response.JSON(rw, req, http.StatusOK, models.Health{
			Status: models.HealthStatusOK,
			Time:   models.Timestamp(time.Now()),
			Details: map[string]interface{}{
				"version":   cfg.Version,
				"consumers": w.Stats(),
			},
		})
	})
	r.Get("/ready", ops.ReadinessCheck)
	return r
}
