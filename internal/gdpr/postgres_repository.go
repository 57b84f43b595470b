package gdpr

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL export repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const jobColumns = `
	id, user_id, encoded_id, status, services, completed_services,
	COALESCE(archive_key, ''), COALESCE(failure_reason, ''),
	created_at, updated_at, completed_at
`

// Create stores a new job.
func (r *PostgresRepository) Create(ctx context.Context, job *ExportJob) error {
	query := `
		INSERT INTO export_jobs (
			id, user_id, encoded_id, status, services, completed_services,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	completed := job.CompletedServices
	if completed == nil {
		completed = []string{}
	}

	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.EncodedID,
		job.Status,
		job.Services,
		completed,
		job.CreatedAt,
		job.UpdatedAt,
	)
	return err
}

// Get retrieves a job by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*ExportJob, error) {
	query := `SELECT ` + jobColumns + ` FROM export_jobs WHERE id = $1`
	return r.scanJob(r.pool.QueryRow(ctx, query, id))
}

// ListByUser returns a user's jobs, newest first.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*ExportJob, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT ` + jobColumns + `
		FROM export_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ExportJob
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return jobs, nil
}

// MarkServiceComplete records a completed service in a single statement so
// concurrent completions of different services do not overwrite each other.
func (r *PostgresRepository) MarkServiceComplete(ctx context.Context, id, service string) (*ExportJob, error) {
	query := `
		UPDATE export_jobs
		SET
			completed_services = CASE
				WHEN $2 = ANY(completed_services) THEN completed_services
				ELSE array_append(completed_services, $2)
			END,
			status = CASE WHEN status = 'pending' THEN 'processing' ELSE status END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + jobColumns

	return r.scanJob(r.pool.QueryRow(ctx, query, id, service))
}

// MarkReady moves the job to StatusReady.
func (r *PostgresRepository) MarkReady(ctx context.Context, id, archiveKey string) (*ExportJob, error) {
	query := `
		UPDATE export_jobs
		SET
			status = 'ready',
			archive_key = $2,
			completed_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + jobColumns

	return r.scanJob(r.pool.QueryRow(ctx, query, id, archiveKey))
}

// MarkFailed moves an active job to StatusFailed. The status guard keeps a
// job that completed concurrently ready.
func (r *PostgresRepository) MarkFailed(ctx context.Context, id, reason string) (*ExportJob, error) {
	query := `
		UPDATE export_jobs
		SET
			status = CASE WHEN status IN ('pending', 'processing') THEN 'failed' ELSE status END,
			failure_reason = CASE WHEN status IN ('pending', 'processing') THEN $2 ELSE failure_reason END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + jobColumns

	return r.scanJob(r.pool.QueryRow(ctx, query, id, reason))
}

func (r *PostgresRepository) scanJob(row pgx.Row) (*ExportJob, error) {
	var job ExportJob
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.EncodedID,
		&job.Status,
		&job.Services,
		&job.CompletedServices,
		&job.ArchiveKey,
		&job.FailureReason,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExportNotFound
		}
		return nil, err
	}
	return &job, nil
}
