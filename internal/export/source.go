package export

import (
	"context"

	"github.com/readlater/readlater/internal/storage"
)

// Source supplies the domain I/O for one exportable record type. R is the
// record type fetched from the domain store.
type Source[R any] interface {
	// Service names the export, e.g. "list". It tags completion events and
	// is part of the chunk keys.
	Service() string

	// FileKey returns the extension-less key for a chunk.
	FileKey(encodedID string, part int) string

	// Fetch returns up to size records for userID in cursor order, starting
	// at the record whose cursor is from (inclusive). StartCursor starts at
	// the first record.
	Fetch(ctx context.Context, userID, from string, size int) ([]R, error)

	// Cursor returns the cursor of a record.
	Cursor(record R) string

	// Format converts records into their stored representation.
	Format(records []R) (storage.Records, error)

	// Write stores formatted records at key.
	Write(ctx context.Context, records storage.Records, key string) error
}

// CursorOrderer is implemented by sources whose cursors have a total order.
// The orchestrator uses it to reject pages that do not advance the cursor.
type CursorOrderer interface {
	CursorLess(a, b string) bool
}
