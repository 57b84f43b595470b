package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const meterName = "github.com/readlater/readlater/internal/telemetry"

// ErrorReporter sends unexpected errors to error tracking.
type ErrorReporter interface {
	Report(ctx context.Context, err error, attrs ...attribute.KeyValue)
}

// Reporter records errors on the active span and counts them per component.
type Reporter struct {
	component string
	reported  metric.Int64Counter
}

// NewReporter creates a Reporter for the named component (e.g. "queue", "export").
func NewReporter(component string) (*Reporter, error) {
	counter, err := otel.Meter(meterName).Int64Counter(
		"errors.reported",
		metric.WithDescription("Number of errors sent to error tracking"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}
	return &Reporter{component: component, reported: counter}, nil
}

// Report records err on the span in ctx, if any, and increments the error counter.
func (r *Reporter) Report(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())

	r.reported.Add(ctx, 1, metric.WithAttributes(attribute.String("component", r.component)))
}

// NopReporter discards reports.
type NopReporter struct{}

// Report implements ErrorReporter.
func (NopReporter) Report(context.Context, error, ...attribute.KeyValue) {}

var (
	_ ErrorReporter = (*Reporter)(nil)
	_ ErrorReporter = NopReporter{}
)
