package user

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

// NewPostgresRepository creates a new PostgreSQL user repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// FindByID retrieves a user by internal id.
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, encoded_id, email, created_at
		FROM users
		WHERE id = $1
	`
	return r.scanUser(ctx, query, id)
}

// FindByEncodedID retrieves a user by public id.
func (r *PostgresRepository) FindByEncodedID(ctx context.Context, encodedID string) (*User, error) {
	query := `
		SELECT id, encoded_id, email, created_at
		FROM users
		WHERE encoded_id = $1
	`
	return r.scanUser(ctx, query, encodedID)
}

func (r *PostgresRepository) scanUser(ctx context.Context, query string, args ...interface{}) (*User, error) {
	var u User
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.EncodedID,
		&u.Email,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
