package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/readlater/readlater/internal/api/middleware"
	"github.com/readlater/readlater/internal/api/models"
	"github.com/readlater/readlater/internal/api/response"
	"github.com/readlater/readlater/internal/gdpr"
	"github.com/readlater/readlater/internal/user"
)

// Pagination bounds for listing export requests.
const (
	DefaultExportListLimit = 50
	MaxExportListLimit     = 100
)

// ExportService is the export request API the handler drives.
type ExportService interface {
	CreateExport(ctx context.Context, userID string) (*gdpr.ExportJob, error)
	GetExport(ctx context.Context, userID, id string) (*gdpr.ExportJob, error)
	ListExports(ctx context.Context, userID string, limit int) ([]*gdpr.ExportJob, error)
	DownloadURL(ctx context.Context, job *gdpr.ExportJob) (string, time.Time, error)
}

// GDPRHandler handles GDPR endpoints.
type GDPRHandler struct {
	exports ExportService
	logger  zerolog.Logger
}

// NewGDPRHandler creates a new GDPRHandler.
func NewGDPRHandler(exports ExportService, logger zerolog.Logger) *GDPRHandler {
	return &GDPRHandler{
		exports: exports,
		logger:  logger.With().Str("handler", "gdpr").Logger(),
	}
}

// CreateExportRequest handles POST /v1/gdpr/export-requests.
func (h *GDPRHandler) CreateExportRequest(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	job, err := h.exports.CreateExport(r.Context(), userID)
	if err != nil {
		var active *gdpr.InProgressError
		switch {
		case errors.As(err, &active):
			middleware.LogExport(r.Context(), active.ID, "")
			response.ExportInProgress(w, r, active.ID)
		case errors.Is(err, gdpr.ErrExportInProgress):
			response.ExportInProgress(w, r, "")
		case errors.Is(err, user.ErrUserNotFound):
			response.NotFound(w, r, "user not found")
		default:
			h.log(r).Error().Err(err).Msg("failed to create export request")
			response.InternalError(w, r, "failed to create export request")
		}
		return
	}
	middleware.LogExport(r.Context(), job.ID, string(exportStatus(job.Status)))

	location := "/v1/gdpr/export-requests/" + job.ID
	response.Accepted(w, r, location, h.toModel(r.Context(), job))
}

// ListExportRequests handles GET /v1/gdpr/export-requests.
func (h *GDPRHandler) ListExportRequests(w http.ResponseWriter, r *http.Request) {
	limit := DefaultExportListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxExportListLimit {
			response.BadRequest(w, r, "invalid limit", []models.FieldError{{
				Field:   "limit",
				Message: "must be an integer between 1 and " + strconv.Itoa(MaxExportListLimit),
				Code:    "out_of_range",
			}})
			return
		}
		limit = n
	}

	jobs, err := h.exports.ListExports(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		h.log(r).Error().Err(err).Msg("failed to list export requests")
		response.InternalError(w, r, "failed to list export requests")
		return
	}

	items := make([]models.ExportRequest, 0, len(jobs))
	for _, job := range jobs {
		items = append(items, h.toModel(r.Context(), job))
	}

	response.JSON(w, r, http.StatusOK, models.PagedExportRequests{
		Items: items,
		Meta:  models.PagedResponseMeta{Limit: limit},
	})
}

// GetExportRequest handles GET /v1/gdpr/export-requests/{exportRequestId}.
func (h *GDPRHandler) GetExportRequest(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	response.JSON(w, r, http.StatusOK, h.toModel(r.Context(), job))
}

// DownloadExportArchive handles
// GET /v1/gdpr/export-requests/{exportRequestId}/archive by redirecting to a
// presigned archive URL.
func (h *GDPRHandler) DownloadExportArchive(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}

	url, _, err := h.exports.DownloadURL(r.Context(), job)
	switch {
	case errors.Is(err, gdpr.ErrExportNotReady):
		response.ExportNotReady(w, r, job.ID, exportStatus(job.Status))
	case err != nil:
		h.log(r).Error().Err(err).Msg("failed to presign export archive")
		response.InternalError(w, r, "failed to presign export archive")
	default:
		http.Redirect(w, r, url, http.StatusSeeOther)
	}
}

// lookup loads the caller's export request named in the path and tags the
// access log with it. It writes the error response when it returns false.
func (h *GDPRHandler) lookup(w http.ResponseWriter, r *http.Request) (*gdpr.ExportJob, bool) {
	id := chi.URLParam(r, "exportRequestId")
	if id == "" {
		response.BadRequest(w, r, "exportRequestId is required", nil)
		return nil, false
	}

	job, err := h.exports.GetExport(r.Context(), middleware.GetUserID(r.Context()), id)
	if err != nil {
		if errors.Is(err, gdpr.ErrExportNotFound) {
			response.NotFound(w, r, "export request not found")
			return nil, false
		}
		h.log(r).Error().Err(err).Str("export_request_id", id).Msg("failed to get export request")
		response.InternalError(w, r, "failed to get export request")
		return nil, false
	}

	middleware.LogExport(r.Context(), job.ID, string(exportStatus(job.Status)))
	return job, true
}

func (h *GDPRHandler) log(r *http.Request) *zerolog.Logger {
	return middleware.RequestLogger(r.Context(), h.logger)
}

// toModel converts a job to its API representation. Ready jobs carry a
// presigned download URL; a signing failure is logged and the URL omitted.
func (h *GDPRHandler) toModel(ctx context.Context, job *gdpr.ExportJob) models.ExportRequest {
	m := models.ExportRequest{
		ID:                job.ID,
		Status:            exportStatus(job.Status),
		Services:          nonNil(job.Services),
		CompletedServices: nonNil(job.CompletedServices),
		CreatedAt:         models.Timestamp(job.CreatedAt),
		UpdatedAt:         models.Timestamp(job.UpdatedAt),
	}
	if job.CompletedAt != nil {
		completedAt := models.Timestamp(*job.CompletedAt)
		m.CompletedAt = &completedAt
	}

	if job.Status == gdpr.StatusReady {
		url, expiresAt, err := h.exports.DownloadURL(ctx, job)
		if err != nil {
			middleware.RequestLogger(ctx, h.logger).Warn().Err(err).Msg("failed to presign export archive")
			return m
		}
		exp := models.Timestamp(expiresAt)
		m.DownloadURL = &url
		m.ExpiresAt = &exp
	}
	return m
}

func exportStatus(s gdpr.Status) models.ExportRequestStatus {
	switch s {
	case gdpr.StatusReady:
		return models.ExportStatusReady
	case gdpr.StatusProcessing:
		return models.ExportStatusRunning
	case gdpr.StatusFailed:
		return models.ExportStatusFailed
	default:
		return models.ExportStatusPending
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
