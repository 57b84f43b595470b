package library_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/readlater/readlater/internal/export"
	"github.com/readlater/readlater/internal/library"
	"github.com/readlater/readlater/internal/storage"
)

var savedAt = time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)

func seedItems(repo *library.InMemoryRepository, userID string, n int) {
	for i := 0; i < n; i++ {
		repo.AddSavedItem(&library.SavedItem{
			UserID:    userID,
			URL:       "https://example.com/" + library.FormatCursor(int64(i+1)),
			Title:     "Item",
			Status:    library.ItemStatusUnread,
			SavedAt:   savedAt,
			UpdatedAt: savedAt,
		})
	}
}

type chunkQueue struct {
	pending []export.Request
}

func (q *chunkQueue) RequestNextChunk(_ context.Context, next export.Request) error {
	q.pending = append(q.pending, next)
	return nil
}

type completions struct {
	done []export.PartComplete
}

func (c *completions) NotifyComplete(_ context.Context, pc export.PartComplete) error {
	c.done = append(c.done, pc)
	return nil
}

func TestParseCursor(t *testing.T) {
	id, err := library.ParseCursor(export.StartCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id)

	id, err = library.ParseCursor("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = library.ParseCursor("abc")
	assert.ErrorIs(t, err, export.ErrInvalidRequest)

	_, err = library.ParseCursor("-1")
	assert.ErrorIs(t, err, export.ErrInvalidRequest)
}

func TestListSource_CursorLess(t *testing.T) {
	src := library.NewListSource(library.NewInMemoryRepository(), storage.NewMemoryStore(""), export.DefaultLayout())

	assert.True(t, src.CursorLess(export.StartCursor, "1"))
	assert.True(t, src.CursorLess("9", "10"))
	assert.False(t, src.CursorLess("10", "10"))
	assert.False(t, src.CursorLess("11", "10"))
}

func TestInMemoryRepository_InclusivePages(t *testing.T) {
	repo := library.NewInMemoryRepository()
	seedItems(repo, "u1", 5)
	seedItems(repo, "u2", 2)

	page, err := repo.ListSavedItems(context.Background(), "u1", 0, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(1), page[0].ID)

	page, err = repo.ListSavedItems(context.Background(), "u1", 3, 10)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, int64(3), page[0].ID)
	assert.Equal(t, int64(5), page[2].ID)
}

// TestListSource_ExportsAllChunks drives the list export chunk by chunk the
// way the queue would.
func TestListSource_ExportsAllChunks(t *testing.T) {
	ctx := context.Background()
	repo := library.NewInMemoryRepository()
	seedItems(repo, "u1", 25)
	seedItems(repo, "someone-else", 3)

	store := storage.NewMemoryStore("archives")
	q := &chunkQueue{}
	done := &completions{}

	o, err := export.New(export.Config[*library.SavedItem]{
		Source:    library.NewListSource(repo, store, export.DefaultLayout()),
		Continuer: q,
		Notifier:  done,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	q.pending = []export.Request{{RequestID: "r1", UserID: "u1", EncodedID: "enc1", Cursor: export.StartCursor}}
	for len(q.pending) > 0 {
		req := q.pending[0]
		q.pending = q.pending[1:]
		require.NoError(t, o.ExportChunk(ctx, req, 10))
	}

	keys := store.Keys("parts/enc1/")
	assert.Equal(t, []string{
		"parts/enc1/list/part_000000.csv",
		"parts/enc1/list/part_000001.csv",
		"parts/enc1/list/part_000002.csv",
	}, keys)

	data, _ := store.Get("parts/enc1/list/part_000002.csv")
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, "id,url,title,status,favorite,tags,saved_at,updated_at", lines[0])
	assert.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[1], "21,https://example.com/21,Item,unread,false,,2024-02-01T09:30:00Z"))

	require.Len(t, done.done, 1)
	assert.Equal(t, "parts/enc1", done.done[0].Prefix)
	assert.Equal(t, "list", done.done[0].Service)
}

func TestListSource_DeletedLookaheadStillCompletes(t *testing.T) {
	ctx := context.Background()
	repo := library.NewInMemoryRepository()
	seedItems(repo, "u1", 11)

	store := storage.NewMemoryStore("archives")
	q := &chunkQueue{}
	done := &completions{}

	o, err := export.New(export.Config[*library.SavedItem]{
		Source:    library.NewListSource(repo, store, export.DefaultLayout()),
		Continuer: q,
		Notifier:  done,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, o.ExportChunk(ctx, export.Request{RequestID: "r1", UserID: "u1", EncodedID: "enc1", Cursor: export.StartCursor}, 10))
	require.Len(t, q.pending, 1)

	repo.DeleteSavedItem(11)
	require.NoError(t, o.ExportChunk(ctx, q.pending[0], 10))

	assert.Len(t, store.Keys("parts/enc1/"), 1)
	assert.Len(t, done.done, 1)
}

func TestAnnotationsSource_FormatsJSON(t *testing.T) {
	ctx := context.Background()
	repo := library.NewInMemoryRepository()
	repo.AddAnnotation(&library.Annotation{
		UserID:    "u1",
		ItemID:    7,
		ItemURL:   "https://example.com/7",
		Quote:     "a highlight",
		Note:      "worth keeping",
		CreatedAt: savedAt,
	})

	store := storage.NewMemoryStore("archives")
	src := library.NewAnnotationsSource(repo, store, export.DefaultLayout())
	assert.Equal(t, "annotations", src.Service())
	assert.Equal(t, "parts/enc1/annotations/part_000003", src.FileKey("enc1", 3))

	records, err := src.Fetch(ctx, "u1", export.StartCursor, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)

	formatted, err := src.Format(records)
	require.NoError(t, err)
	require.NoError(t, src.Write(ctx, formatted, src.FileKey("enc1", 0)))

	data, ok := store.Get("parts/enc1/annotations/part_000000.json")
	require.True(t, ok)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "a highlight", rows[0]["quote"])
	assert.Equal(t, "https://example.com/7", rows[0]["item_url"])
	assert.Equal(t, "2024-02-01T09:30:00Z", rows[0]["created_at"])
}
