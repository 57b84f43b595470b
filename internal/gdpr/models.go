// Package gdpr tracks data export requests. It starts the export of every
// service for a request and, once each has reported completion, archives the
// written chunks for download.
package gdpr

import (
	"errors"
	"slices"
	"time"
)

// Errors returned by the repository and service.
var (
	ErrExportNotFound = errors.New("export request not found")
	ErrExportNotReady = errors.New("export request is not ready")

	// ErrExportInProgress is returned when the user's latest export is still
	// running. Exports of one user share a chunk prefix and must not overlap.
	ErrExportInProgress = errors.New("an export request is already in progress")
)

// InProgressError names the active export request that blocks a new one. It
// matches ErrExportInProgress.
type InProgressError struct {
	ID string
}

func (e *InProgressError) Error() string {
	return ErrExportInProgress.Error() + ": " + e.ID
}

func (e *InProgressError) Is(target error) bool {
	return target == ErrExportInProgress
}

// Status is the lifecycle state of an export request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Active reports whether a job in this status may still produce chunks.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusProcessing
}

// ExportJob is one user's export request across every export service.
type ExportJob struct {
	ID                string
	UserID            string
	EncodedID         string
	Status            Status
	Services          []string
	CompletedServices []string
	ArchiveKey        string
	FailureReason     string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time
}

// PendingServices returns the services that have not reported completion.
func (j *ExportJob) PendingServices() []string {
	var pending []string
	for _, s := range j.Services {
		if !slices.Contains(j.CompletedServices, s) {
			pending = append(pending, s)
		}
	}
	return pending
}

func copyJob(j *ExportJob) *ExportJob {
	cpy := *j
	cpy.Services = slices.Clone(j.Services)
	cpy.CompletedServices = slices.Clone(j.CompletedServices)
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cpy.CompletedAt = &t
	}
	return &cpy
}
