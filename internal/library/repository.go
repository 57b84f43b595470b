package library

import "context"

// Repository reads a user's library in id order. Listing is inclusive of
// fromID, so the last record of one page can start the next.
type Repository interface {
	// ListSavedItems returns up to limit items of userID with id >= fromID, by ascending id.
	ListSavedItems(ctx context.Context, userID string, fromID int64, limit int) ([]*SavedItem, error)

	// ListAnnotations returns up to limit annotations of userID with id >= fromID, by ascending id.
	ListAnnotations(ctx context.Context, userID string, fromID int64, limit int) ([]*Annotation, error)
}
