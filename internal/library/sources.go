package library

import (
	"context"
	"fmt"
	"strconv"

	"github.com/readlater/readlater/internal/export"
	"github.com/readlater/readlater/internal/storage"
)

// Export service names.
const (
	ServiceList        = "list"
	ServiceAnnotations = "annotations"
)

// ParseCursor converts an export cursor to the id it starts at.
// export.StartCursor starts before the first id.
func ParseCursor(cursor string) (int64, error) {
	if cursor == export.StartCursor {
		return 0, nil
	}
	id, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: bad cursor %q", export.ErrInvalidRequest, cursor)
	}
	return id, nil
}

// FormatCursor converts an id to an export cursor.
func FormatCursor(id int64) string {
	return strconv.FormatInt(id, 10)
}

// idCursors orders cursors numerically; unparsable cursors sort first.
type idCursors struct{}

func (idCursors) CursorLess(a, b string) bool {
	x, errA := ParseCursor(a)
	y, errB := ParseCursor(b)
	if errB != nil {
		return false
	}
	if errA != nil {
		return true
	}
	return x < y
}

// ListSource exports saved items as CSV.
type ListSource struct {
	idCursors
	repo   Repository
	store  storage.ObjectStore
	layout export.Layout
}

var (
	_ export.Source[*SavedItem] = (*ListSource)(nil)
	_ export.CursorOrderer      = (*ListSource)(nil)
)

// NewListSource creates the "list" export source.
func NewListSource(repo Repository, store storage.ObjectStore, layout export.Layout) *ListSource {
	return &ListSource{repo: repo, store: store, layout: layout}
}

func (s *ListSource) Service() string { return ServiceList }

func (s *ListSource) FileKey(encodedID string, part int) string {
	return s.layout.FileKey(encodedID, ServiceList, part)
}

func (s *ListSource) Fetch(ctx context.Context, userID, from string, size int) ([]*SavedItem, error) {
	fromID, err := ParseCursor(from)
	if err != nil {
		return nil, err
	}
	return s.repo.ListSavedItems(ctx, userID, fromID, size)
}

func (s *ListSource) Cursor(item *SavedItem) string {
	return FormatCursor(item.ID)
}

func (s *ListSource) Format(items []*SavedItem) (storage.Records, error) {
	rows := make([]map[string]any, 0, len(items))
	for _, item := range items {
		rows = append(rows, map[string]any{
			"id":         item.ID,
			"url":        item.URL,
			"title":      item.Title,
			"status":     string(item.Status),
			"favorite":   item.Favorite,
			"tags":       item.Tags,
			"saved_at":   item.SavedAt,
			"updated_at": item.UpdatedAt,
		})
	}
	return storage.Records{
		Columns: []string{"id", "url", "title", "status", "favorite", "tags", "saved_at", "updated_at"},
		Rows:    rows,
	}, nil
}

func (s *ListSource) Write(ctx context.Context, records storage.Records, key string) error {
	return s.store.Write(ctx, records, key, storage.FormatCSV)
}

// AnnotationsSource exports annotations as JSON.
type AnnotationsSource struct {
	idCursors
	repo   Repository
	store  storage.ObjectStore
	layout export.Layout
}

var (
	_ export.Source[*Annotation] = (*AnnotationsSource)(nil)
	_ export.CursorOrderer       = (*AnnotationsSource)(nil)
)

// NewAnnotationsSource creates the "annotations" export source.
func NewAnnotationsSource(repo Repository, store storage.ObjectStore, layout export.Layout) *AnnotationsSource {
	return &AnnotationsSource{repo: repo, store: store, layout: layout}
}

func (s *AnnotationsSource) Service() string { return ServiceAnnotations }

func (s *AnnotationsSource) FileKey(encodedID string, part int) string {
	return s.layout.FileKey(encodedID, ServiceAnnotations, part)
}

func (s *AnnotationsSource) Fetch(ctx context.Context, userID, from string, size int) ([]*Annotation, error) {
	fromID, err := ParseCursor(from)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAnnotations(ctx, userID, fromID, size)
}

func (s *AnnotationsSource) Cursor(a *Annotation) string {
	return FormatCursor(a.ID)
}

func (s *AnnotationsSource) Format(annotations []*Annotation) (storage.Records, error) {
	rows := make([]map[string]any, 0, len(annotations))
	for _, a := range annotations {
		rows = append(rows, map[string]any{
			"id":         a.ID,
			"item_id":    a.ItemID,
			"item_url":   a.ItemURL,
			"quote":      a.Quote,
			"note":       a.Note,
			"created_at": a.CreatedAt,
		})
	}
	return storage.Records{
		Columns: []string{"id", "item_id", "item_url", "quote", "note", "created_at"},
		Rows:    rows,
	}, nil
}

func (s *AnnotationsSource) Write(ctx context.Context, records storage.Records, key string) error {
	return s.store.Write(ctx, records, key, storage.FormatJSON)
}
