package queue

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/readlater/readlater/internal/queue"

// Metrics holds the queue consumer instruments.
type Metrics struct {
	polls          metric.Int64Counter
	handled        metric.Int64Counter
	deleted        metric.Int64Counter
	failed         metric.Int64Counter
	discarded      metric.Int64Counter
	handleDuration metric.Float64Histogram
}

// NewMetrics creates the queue consumer instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	polls, err := meter.Int64Counter(
		"queue.poll.total",
		metric.WithDescription("Number of queue poll cycles"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, err
	}

	handled, err := meter.Int64Counter(
		"queue.messages.received",
		metric.WithDescription("Number of messages handed to a handler"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	deleted, err := meter.Int64Counter(
		"queue.messages.deleted",
		metric.WithDescription("Number of messages deleted from the queue"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	failed, err := meter.Int64Counter(
		"queue.messages.failed",
		metric.WithDescription("Number of messages left on the queue for redelivery"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	discarded, err := meter.Int64Counter(
		"queue.messages.discarded",
		metric.WithDescription("Number of unprocessable messages deleted without retry"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	handleDuration, err := meter.Float64Histogram(
		"queue.handle.duration",
		metric.WithDescription("Duration of message handling in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		polls:          polls,
		handled:        handled,
		deleted:        deleted,
		failed:         failed,
		discarded:      discarded,
		handleDuration: handleDuration,
	}, nil
}

func (m *Metrics) recordPoll(ctx context.Context, queue string) {
	m.polls.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

func (m *Metrics) recordHandled(ctx context.Context, queue string, d time.Duration, success bool) {
	attrs := metric.WithAttributes(
		attribute.String("queue", queue),
		attribute.Bool("success", success),
	)
	m.handled.Add(ctx, 1, attrs)
	m.handleDuration.Record(ctx, d.Seconds(), attrs)
}

func (m *Metrics) recordDeleted(ctx context.Context, queue string) {
	m.deleted.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

func (m *Metrics) recordFailed(ctx context.Context, queue string) {
	m.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}

func (m *Metrics) recordDiscarded(ctx context.Context, queue string) {
	m.discarded.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}
