package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Message is a single received queue message.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          []byte

	// ReceiveCount is the approximate number of times the message has been received,
	// including this one.
	ReceiveCount int
}

// ReceiveInput bounds a single receive call.
type ReceiveInput struct {
	MaxMessages       int
	VisibilityTimeout time.Duration
	WaitTime          time.Duration
}

// Sender enqueues a JSON-serializable body and returns the new message ID.
type Sender interface {
	Send(ctx context.Context, body any) (string, error)
}

// Client is an at-least-once message queue.
type Client interface {
	Sender

	// Receive long-polls for up to MaxMessages messages.
	Receive(ctx context.Context, in ReceiveInput) ([]Message, error)

	// Delete removes a handled message so it is not redelivered.
	Delete(ctx context.Context, msg Message) error
}

// ErrUnprocessable marks a message that no redelivery can fix, such as a
// malformed body. The consumer reports it and deletes the message.
var ErrUnprocessable = errors.New("unprocessable message")

// Unprocessable wraps err so that errors.Is(err, ErrUnprocessable) holds.
func Unprocessable(err error) error {
	return fmt.Errorf("%w: %w", ErrUnprocessable, err)
}

// Handler processes a single message body. A true result means the message
// was handled and may be deleted. A false result or an error leaves the
// message on the queue for redelivery after its visibility timeout, unless
// the error is ErrUnprocessable.
type Handler interface {
	HandleMessage(ctx context.Context, body []byte) (bool, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, body []byte) (bool, error)

// HandleMessage implements Handler.
func (f HandlerFunc) HandleMessage(ctx context.Context, body []byte) (bool, error) {
	return f(ctx, body)
}
