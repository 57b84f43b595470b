package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/readlater/readlater/internal/events"
	"github.com/readlater/readlater/internal/queue"
)

// Continuer schedules the next chunk of an export.
type Continuer interface {
	RequestNextChunk(ctx context.Context, next Request) error
}

// Notifier announces that every chunk of an export has been written.
type Notifier interface {
	NotifyComplete(ctx context.Context, pc PartComplete) error
}

// QueueContinuer enqueues the next chunk on the work queue that drives the
// export, so each chunk is its own queue message.
type QueueContinuer struct {
	Sender queue.Sender
}

// RequestNextChunk implements Continuer. The user id is not sent.
func (c QueueContinuer) RequestNextChunk(ctx context.Context, next Request) error {
	next.UserID = ""
	if _, err := c.Sender.Send(ctx, next); err != nil {
		return fmt.Errorf("enqueueing part %d: %w", next.Part, err)
	}
	return nil
}

// EventNotifier publishes PartComplete as an "export-part-complete" event.
type EventNotifier struct {
	Publisher events.Publisher
	Source    string
}

// NotifyComplete implements Notifier.
func (n EventNotifier) NotifyComplete(ctx context.Context, pc PartComplete) error {
	ev, err := events.NewEvent(PartCompleteDetailType, n.Source, pc)
	if err != nil {
		return err
	}
	return n.Publisher.SendEvent(ctx, ev)
}

// MultiNotifier notifies every notifier in order and joins their errors.
type MultiNotifier []Notifier

// NotifyComplete implements Notifier.
func (m MultiNotifier) NotifyComplete(ctx context.Context, pc PartComplete) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyComplete(ctx, pc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, pc PartComplete) error

// NotifyComplete implements Notifier.
func (f NotifierFunc) NotifyComplete(ctx context.Context, pc PartComplete) error {
	return f(ctx, pc)
}

// DecodePartComplete extracts the completion detail from an event.
func DecodePartComplete(ev events.Event) (PartComplete, error) {
	if ev.DetailType != PartCompleteDetailType {
		return PartComplete{}, fmt.Errorf("unexpected detail-type %q", ev.DetailType)
	}
	var pc PartComplete
	if err := ev.DecodeDetail(&pc); err != nil {
		return PartComplete{}, fmt.Errorf("decoding %s detail: %w", PartCompleteDetailType, err)
	}
	if pc.Timestamp.IsZero() {
		pc.Timestamp = ev.Time
	}
	pc.Timestamp = pc.Timestamp.In(time.UTC)
	return pc, nil
}

var (
	_ Continuer = QueueContinuer{}
	_ Notifier  = EventNotifier{}
	_ Notifier  = MultiNotifier{}
	_ Notifier  = NotifierFunc(nil)
)
