package gdpr

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

// Repository defines the interface for export request persistence.
type Repository interface {
	// Create stores a new job.
	Create(ctx context.Context, job *ExportJob) error

	// Get retrieves a job by ID.
	Get(ctx context.Context, id string) (*ExportJob, error)

	// ListByUser returns a user's jobs, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*ExportJob, error)

	// MarkServiceComplete adds service to the job's completed services and
	// returns the updated job. Marking a service twice has no further effect.
	MarkServiceComplete(ctx context.Context, id, service string) (*ExportJob, error)

	// MarkReady records the archive key and moves the job to StatusReady.
	MarkReady(ctx context.Context, id, archiveKey string) (*ExportJob, error)

	// MarkFailed moves an active job to StatusFailed with reason. A job that
	// is already ready or failed is returned unchanged.
	MarkFailed(ctx context.Context, id, reason string) (*ExportJob, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing. Production should use PostgresRepository.
type InMemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*ExportJob
	now  func() time.Time
}

var _ Repository = (*InMemoryRepository)(nil)

// NewInMemoryRepository creates a new in-memory export repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		jobs: make(map[string]*ExportJob),
		now:  time.Now,
	}
}

// Create stores a new job.
func (r *InMemoryRepository) Create(_ context.Context, job *ExportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = copyJob(job)
	return nil
}

// Get retrieves a job by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*ExportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrExportNotFound
	}
	return copyJob(job), nil
}

// ListByUser returns a user's jobs, newest first.
func (r *InMemoryRepository) ListByUser(_ context.Context, userID string, limit int) ([]*ExportJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var jobs []*ExportJob
	for _, job := range r.jobs {
		if job.UserID == userID {
			jobs = append(jobs, copyJob(job))
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID > jobs[j].ID
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// MarkServiceComplete records a completed service.
func (r *InMemoryRepository) MarkServiceComplete(_ context.Context, id, service string) (*ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrExportNotFound
	}
	if !slices.Contains(job.CompletedServices, service) {
		job.CompletedServices = append(job.CompletedServices, service)
		job.UpdatedAt = r.now()
	}
	if job.Status == StatusPending {
		job.Status = StatusProcessing
	}
	return copyJob(job), nil
}

// MarkReady moves the job to StatusReady.
func (r *InMemoryRepository) MarkReady(_ context.Context, id, archiveKey string) (*ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrExportNotFound
	}
	now := r.now()
	job.Status = StatusReady
	job.ArchiveKey = archiveKey
	job.UpdatedAt = now
	job.CompletedAt = &now
	return copyJob(job), nil
}

// MarkFailed moves an active job to StatusFailed.
func (r *InMemoryRepository) MarkFailed(_ context.Context, id, reason string) (*ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return nil, ErrExportNotFound
	}
	if job.Status.Active() {
		job.Status = StatusFailed
		job.FailureReason = reason
		job.UpdatedAt = r.now()
	}
	return copyJob(job), nil
}
