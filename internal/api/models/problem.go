package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC7807 body served as application/problem+json.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	// TraceID echoes the X-Request-Id of the failed request.
	TraceID string `json:"traceId"`

	// ExportRequestID names the export request the problem is about, such as
	// the active request that blocks a new one.
	ExportRequestID string `json:"exportRequestId,omitempty"`

	Errors []FieldError `json:"errors,omitempty"`
}

// FieldError describes one rejected request parameter.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ProblemTypeBase prefixes every problem type URI.
const ProblemTypeBase = "https://api.readlater.app/problems/"

// Generic problem types.
const (
	ProblemTypeValidation      = ProblemTypeBase + "validation-error"
	ProblemTypeUnauthorized    = ProblemTypeBase + "unauthorized"
	ProblemTypeNotFound        = ProblemTypeBase + "not-found"
	ProblemTypeTooManyRequests = ProblemTypeBase + "too-many-requests"
	ProblemTypeInternal        = ProblemTypeBase + "internal-error"
	ProblemTypeUnavailable     = ProblemTypeBase + "service-unavailable"
)

// Export problem types. Clients branch on these instead of the status code:
// both in-progress and not-ready are 409s.
const (
	ProblemTypeExportInProgress  = ProblemTypeBase + "export-in-progress"
	ProblemTypeExportNotReady    = ProblemTypeBase + "export-not-ready"
	ProblemTypeExportRateLimited = ProblemTypeBase + "export-rate-limited"
)

type problemKind struct {
	title  string
	status int
}

var problemKinds = map[string]problemKind{
	ProblemTypeValidation:        {"Validation error", http.StatusBadRequest},
	ProblemTypeUnauthorized:      {"Unauthorized", http.StatusUnauthorized},
	ProblemTypeNotFound:          {"Not found", http.StatusNotFound},
	ProblemTypeTooManyRequests:   {"Too many requests", http.StatusTooManyRequests},
	ProblemTypeInternal:          {"Internal server error", http.StatusInternalServerError},
	ProblemTypeUnavailable:       {"Service unavailable", http.StatusServiceUnavailable},
	ProblemTypeExportInProgress:  {"Export already in progress", http.StatusConflict},
	ProblemTypeExportNotReady:    {"Export not ready", http.StatusConflict},
	ProblemTypeExportRateLimited: {"Too many export requests", http.StatusTooManyRequests},
}

// NewProblem returns a problem of a known type with its title and status
// filled in. An unknown type yields an internal error.
func NewProblem(problemType, traceID, detail string) *Problem {
	kind, ok := problemKinds[problemType]
	if !ok {
		problemType = ProblemTypeInternal
		kind = problemKinds[ProblemTypeInternal]
	}
	return &Problem{
		Type:    problemType,
		Title:   kind.title,
		Status:  kind.status,
		Detail:  detail,
		TraceID: traceID,
	}
}

// NewValidationProblem returns a 400 listing the rejected fields.
func NewValidationProblem(traceID, detail string, errors []FieldError) *Problem {
	p := NewProblem(ProblemTypeValidation, traceID, detail)
	p.Errors = errors
	return p
}

// NewExportInProgress returns the 409 served while activeID still runs.
func NewExportInProgress(traceID, activeID string) *Problem {
	p := NewProblem(ProblemTypeExportInProgress, traceID,
		"wait for the active export request to finish before starting another")
	p.ExportRequestID = activeID
	return p
}

// NewExportNotReady returns the 409 served when the archive of id is not
// available yet.
func NewExportNotReady(traceID, id string, status ExportRequestStatus) *Problem {
	p := NewProblem(ProblemTypeExportNotReady, traceID,
		"export request is "+string(status)+", the archive is available once it is READY")
	p.ExportRequestID = id
	return p
}

// Write sends the problem with its status code.
func (p *Problem) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/problem+json")
	if p.TraceID != "" {
		w.Header().Set("X-Request-Id", p.TraceID)
	}
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
