package export

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/readlater/readlater/internal/export"

// Metrics holds the export instruments.
type Metrics struct {
	chunks    metric.Int64Counter
	records   metric.Int64Counter
	completed metric.Int64Counter
	anomalies metric.Int64Counter
}

// NewMetrics creates the export instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)

	chunks, err := meter.Int64Counter(
		"export.chunks.written",
		metric.WithDescription("Number of export chunks written"),
		metric.WithUnit("{chunk}"),
	)
	if err != nil {
		return nil, err
	}

	records, err := meter.Int64Counter(
		"export.records.exported",
		metric.WithDescription("Number of records written to export chunks"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	completed, err := meter.Int64Counter(
		"export.completed",
		metric.WithDescription("Number of exports that published completion"),
		metric.WithUnit("{export}"),
	)
	if err != nil {
		return nil, err
	}

	anomalies, err := meter.Int64Counter(
		"export.anomalies",
		metric.WithDescription("Number of pages that broke the cursor contract"),
		metric.WithUnit("{anomaly}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		chunks:    chunks,
		records:   records,
		completed: completed,
		anomalies: anomalies,
	}, nil
}

func (m *Metrics) recordChunk(ctx context.Context, service string, records int) {
	attrs := metric.WithAttributes(attribute.String("service", service))
	m.chunks.Add(ctx, 1, attrs)
	m.records.Add(ctx, int64(records), attrs)
}

func (m *Metrics) recordCompleted(ctx context.Context, service string) {
	m.completed.Add(ctx, 1, metric.WithAttributes(attribute.String("service", service)))
}

func (m *Metrics) recordAnomaly(ctx context.Context, service, kind string) {
	m.anomalies.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("kind", kind),
	))
}
