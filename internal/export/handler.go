package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/readlater/readlater/internal/queue"
)

// DefaultPageSize is the number of records per chunk.
const DefaultPageSize = 10000

// UserDirectory resolves the internal user id behind an encoded id.
type UserDirectory interface {
	UserIDForEncodedID(ctx context.Context, encodedID string) (string, error)
}

// Handler is the queue.Handler that feeds chunk requests to an Orchestrator.
type Handler[R any] struct {
	orchestrator *Orchestrator[R]
	pageSize     int
	users        UserDirectory
	logger       zerolog.Logger
}

var _ queue.Handler = (*Handler[any])(nil)

// HandlerConfig holds configuration for a Handler.
type HandlerConfig struct {
	// PageSize is the number of records per chunk. Default: DefaultPageSize.
	PageSize int

	// Users re-attaches the user id to continuation messages.
	Users UserDirectory

	Logger zerolog.Logger
}

// NewHandler creates a Handler for o.
func NewHandler[R any](o *Orchestrator[R], cfg HandlerConfig) *Handler[R] {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Handler[R]{
		orchestrator: o,
		pageSize:     pageSize,
		users:        cfg.Users,
		logger:       cfg.Logger,
	}
}

// HandleMessage decodes body as a Request and exports the chunk. Malformed
// requests and cursor anomalies are returned as queue.ErrUnprocessable since
// redelivery cannot fix them. Any other failure leaves the message on the
// queue.
func (h *Handler[R]) HandleMessage(ctx context.Context, body []byte) (bool, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return false, queue.Unprocessable(fmt.Errorf("%w: decoding message: %v", ErrInvalidRequest, err))
	}

	if req.UserID == "" && req.EncodedID != "" {
		if h.users == nil {
			return false, errors.New("export handler cannot resolve user ids")
		}
		userID, err := h.users.UserIDForEncodedID(ctx, req.EncodedID)
		if err != nil {
			return false, fmt.Errorf("resolving user for %s: %w", req.EncodedID, err)
		}
		req.UserID = userID
	}

	h.logger.Debug().
		Str("service", h.orchestrator.Service()).
		Str("request_id", req.RequestID).
		Int("part", req.Part).
		Msg("handling export chunk")

	if err := h.orchestrator.ExportChunk(ctx, req, h.pageSize); err != nil {
		if errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrCursorNotAdvancing) {
			return false, queue.Unprocessable(err)
		}
		return false, err
	}
	return true, nil
}
