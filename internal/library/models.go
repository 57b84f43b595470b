// Package library holds a user's saved items and annotations and exposes
// them as export sources.
package library

import "time"

// ItemStatus is the read state of a saved item.
type ItemStatus string

const (
	ItemStatusUnread   ItemStatus = "unread"
	ItemStatusArchived ItemStatus = "archived"
)

// SavedItem is a URL a user saved to read later.
type SavedItem struct {
	ID        int64
	UserID    string
	URL       string
	Title     string
	Status    ItemStatus
	Favorite  bool
	Tags      []string
	SavedAt   time.Time
	UpdatedAt time.Time
}

// Annotation is a highlight, with an optional note, on a saved item.
type Annotation struct {
	ID        int64
	UserID    string
	ItemID    int64
	ItemURL   string
	Quote     string
	Note      string
	CreatedAt time.Time
}
