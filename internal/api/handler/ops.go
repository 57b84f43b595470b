// Package handler provides HTTP handlers for the readlater API.
package handler

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/readlater/readlater/internal/api/models"
	"github.com/readlater/readlater/internal/api/response"
)

// readinessTimeout bounds every dependency check.
const readinessTimeout = 2 * time.Second

// Checker reports whether a dependency is reachable.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// Check implements Checker.
func (f CheckerFunc) Check(ctx context.Context) error {
	return f(ctx)
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	checks    map[string]Checker
	now       func() time.Time
}

// NewOpsHandler creates a new OpsHandler. Each named check gates readiness.
func NewOpsHandler(version, buildTime string, checks map[string]Checker) *OpsHandler {
	return &OpsHandler{
		version:   version,
		buildTime: buildTime,
		checks:    checks,
		now:       time.Now,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. It answers 503 when any
// dependency check fails.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
	}
	for _, name := range slices.Sorted(maps.Keys(h.checks)) {
		sub := models.SubsystemStatus{Name: name, Status: models.HealthStatusOK}
		if err := h.checks[name].Check(ctx); err != nil {
			detail := err.Error()
			sub.Status = models.HealthStatusFail
			sub.Detail = &detail
			health.Status = models.HealthStatusFail
		}
		health.Subsystems = append(health.Subsystems, sub)
	}

	status := http.StatusOK
	if health.Status != models.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}
