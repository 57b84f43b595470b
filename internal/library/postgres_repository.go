package library

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL library repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// ListSavedItems retrieves a page of saved items.
func (r *PostgresRepository) ListSavedItems(ctx context.Context, userID string, fromID int64, limit int) ([]*SavedItem, error) {
	query := `
		SELECT
			id, user_id, url, title, status, favorite, tags,
			saved_at, updated_at
		FROM saved_items
		WHERE user_id = $1 AND id >= $2
		ORDER BY id ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, userID, fromID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*SavedItem
	for rows.Next() {
		var item SavedItem
		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.URL,
			&item.Title,
			&item.Status,
			&item.Favorite,
			&item.Tags,
			&item.SavedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

// ListAnnotations retrieves a page of annotations with the URL of their item.
func (r *PostgresRepository) ListAnnotations(ctx context.Context, userID string, fromID int64, limit int) ([]*Annotation, error) {
	query := `
		SELECT
			a.id, a.user_id, a.item_id, i.url,
			a.quote, COALESCE(a.note, ''), a.created_at
		FROM annotations a
		JOIN saved_items i ON i.id = a.item_id
		WHERE a.user_id = $1 AND a.id >= $2
		ORDER BY a.id ASC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, userID, fromID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var annotations []*Annotation
	for rows.Next() {
		var a Annotation
		err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.ItemID,
			&a.ItemURL,
			&a.Quote,
			&a.Note,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return annotations, nil
}
