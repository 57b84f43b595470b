// Package export turns an export request into a sequence of bounded chunks
// written to object storage. Each chunk either enqueues its successor or, on
// the final page, announces completion.
package export

import (
	"errors"
	"fmt"
	"path"
	"time"
)

// StartCursor is the cursor of the first chunk; it sorts before every record.
const StartCursor = "start"

// PartCompleteDetailType is the detail-type of the completion event.
const PartCompleteDetailType = "export-part-complete"

var (
	// ErrInvalidRequest is returned for malformed or incomplete chunk requests.
	ErrInvalidRequest = errors.New("invalid export request")

	// ErrCursorNotAdvancing is returned when a fetched page would hand the next
	// chunk a cursor that is not past the current one.
	ErrCursorNotAdvancing = errors.New("export cursor not advancing")
)

// Request is the queue message that drives one chunk. UserID is left out of
// continuation messages and re-attached by the handler.
type Request struct {
	RequestID string `json:"requestId"`
	UserID    string `json:"userId,omitempty"`
	EncodedID string `json:"encodedId"`
	Cursor    string `json:"cursor"`
	Part      int    `json:"part"`
}

// Validate checks the fields every chunk needs.
func (r Request) Validate() error {
	switch {
	case r.RequestID == "":
		return fmt.Errorf("%w: requestId is required", ErrInvalidRequest)
	case r.EncodedID == "":
		return fmt.Errorf("%w: encodedId is required", ErrInvalidRequest)
	case r.UserID == "":
		return fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	case r.Cursor == "":
		return fmt.Errorf("%w: cursor is required", ErrInvalidRequest)
	case r.Part < 0:
		return fmt.Errorf("%w: part must not be negative", ErrInvalidRequest)
	}
	return nil
}

// Next returns the request for the following chunk.
func (r Request) Next(cursor string) Request {
	next := r
	next.Cursor = cursor
	next.Part = r.Part + 1
	return next
}

// PartComplete is the detail of the completion event published once per
// request and service.
type PartComplete struct {
	EncodedID string    `json:"encodedId"`
	RequestID string    `json:"requestId"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
	Prefix    string    `json:"prefix"`
}

// Layout maps requests to object keys.
type Layout struct {
	PartsPrefix string
}

// DefaultLayout stores chunks under "parts".
func DefaultLayout() Layout {
	return Layout{PartsPrefix: "parts"}
}

// Prefix returns the key prefix holding every chunk of a user's export.
func (l Layout) Prefix(encodedID string) string {
	return path.Join(l.PartsPrefix, encodedID)
}

// FileKey returns the extension-less key of a chunk. Parts are zero padded
// so keys sort in part order.
func (l Layout) FileKey(encodedID, service string, part int) string {
	return fmt.Sprintf("%s/%s/part_%06d", l.Prefix(encodedID), service, part)
}
