package storage

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	uploadCount metric.Int64Counter
	uploadBytes metric.Int64Counter
)

func init() {
	meter := otel.Meter(tracerName)

	var err error
	uploadCount, err = meter.Int64Counter(
		"storage.upload.count",
		metric.WithDescription("Number of objects uploaded"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create storage.upload.count counter: %w", err))
	}

	uploadBytes, err = meter.Int64Counter(
		"storage.upload.bytes",
		metric.WithDescription("Bytes uploaded to object storage"),
		metric.WithUnit("By"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create storage.upload.bytes counter: %w", err))
	}
}

func recordUpload(ctx context.Context, bucket string, size int64) {
	attrs := metric.WithAttributes(attribute.String("bucket", bucket))
	uploadCount.Add(ctx, 1, attrs)
	uploadBytes.Add(ctx, size, attrs)
}
