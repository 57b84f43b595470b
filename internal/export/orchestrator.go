package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/readlater/readlater/internal/telemetry"
)

// Config holds the dependencies of an Orchestrator.
type Config[R any] struct {
	Source    Source[R]
	Layout    Layout
	Continuer Continuer
	Notifier  Notifier

	Logger   zerolog.Logger
	Tracer   trace.Tracer
	Reporter telemetry.ErrorReporter
	Metrics  *Metrics

	// Now is used for completion timestamps. Default: time.Now.
	Now func() time.Time
}

// Orchestrator runs the chunking state machine for one Source.
type Orchestrator[R any] struct {
	source    Source[R]
	layout    Layout
	continuer Continuer
	notifier  Notifier
	logger    zerolog.Logger
	tracer    trace.Tracer
	reporter  telemetry.ErrorReporter
	metrics   *Metrics
	now       func() time.Time
}

// New creates an Orchestrator.
func New[R any](cfg Config[R]) (*Orchestrator[R], error) {
	if cfg.Source == nil || cfg.Continuer == nil || cfg.Notifier == nil {
		return nil, errors.New("export orchestrator requires a source, a continuer and a notifier")
	}
	if cfg.Layout.PartsPrefix == "" {
		cfg.Layout = DefaultLayout()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(instrumentationName)
	}
	if cfg.Reporter == nil {
		cfg.Reporter = telemetry.NopReporter{}
	}
	if cfg.Metrics == nil {
		m, err := NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("creating export metrics: %w", err)
		}
		cfg.Metrics = m
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Orchestrator[R]{
		source:    cfg.Source,
		layout:    cfg.Layout,
		continuer: cfg.Continuer,
		notifier:  cfg.Notifier,
		logger:    cfg.Logger.With().Str("service", cfg.Source.Service()).Logger(),
		tracer:    cfg.Tracer,
		reporter:  cfg.Reporter,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}, nil
}

// Service returns the source's service name.
func (o *Orchestrator[R]) Service() string {
	return o.source.Service()
}

// ExportChunk exports the chunk described by req. It fetches pageSize+1
// records from req.Cursor; the extra record only signals that another page
// exists and becomes the cursor of the next chunk. A non-final chunk is
// written and its successor enqueued; the final chunk is written and
// completion published. Any error is logged, reported and returned so the
// driving message is redelivered.
func (o *Orchestrator[R]) ExportChunk(ctx context.Context, req Request, pageSize int) (err error) {
	service := o.source.Service()

	ctx, span := o.tracer.Start(ctx, "export."+service+".chunk",
		trace.WithAttributes(
			attribute.String("export.request_id", req.RequestID),
			attribute.String("export.encoded_id", req.EncodedID),
			attribute.String("export.cursor", req.Cursor),
			attribute.Int("export.part", req.Part),
			attribute.Int("export.page_size", pageSize),
		),
	)
	defer span.End()

	logger := o.logger.With().
		Str("request_id", req.RequestID).
		Str("encoded_id", req.EncodedID).
		Str("cursor", req.Cursor).
		Int("part", req.Part).
		Logger()

	defer func() {
		if err == nil {
			return
		}
		logger.Error().Err(err).Msg("export chunk failed")
		o.reporter.Report(ctx, err,
			attribute.String("service", service),
			attribute.String("request_id", req.RequestID),
			attribute.String("cursor", req.Cursor),
			attribute.Int("part", req.Part),
		)
		span.SetStatus(codes.Error, err.Error())
	}()

	if err := req.Validate(); err != nil {
		return err
	}
	if pageSize < 1 {
		return fmt.Errorf("%w: page size must be at least 1", ErrInvalidRequest)
	}

	records, err := o.source.Fetch(ctx, req.UserID, req.Cursor, pageSize+1)
	if err != nil {
		return fmt.Errorf("fetching %s records: %w", service, err)
	}
	span.SetAttributes(attribute.Int("export.fetched", len(records)))

	switch {
	case len(records) == 0 && req.Part == 0:
		logger.Info().Msg("nothing to export")
		return o.complete(ctx, logger, req)

	case len(records) == 0:
		// The previous chunk saw a lookahead record that is now gone, most
		// likely deleted between chunks. Everything before it is written.
		logger.Warn().Msg("empty page after a full page, completing export")
		o.metrics.recordAnomaly(ctx, service, "empty_page")
		return o.complete(ctx, logger, req)

	case len(records) <= pageSize:
		if err := o.write(ctx, req, records); err != nil {
			return err
		}
		logger.Info().Int("records", len(records)).Msg("wrote final export chunk")
		return o.complete(ctx, logger, req)
	}

	page, lookahead := records[:pageSize], records[pageSize]
	next := o.source.Cursor(lookahead)
	if !o.advances(req.Cursor, next) {
		logger.Warn().Str("next_cursor", next).Msg("fetched page does not advance the cursor")
		o.metrics.recordAnomaly(ctx, service, "cursor_not_advancing")
		return fmt.Errorf("%w: %q -> %q", ErrCursorNotAdvancing, req.Cursor, next)
	}

	if err := o.write(ctx, req, page); err != nil {
		return err
	}

	if err := o.continuer.RequestNextChunk(ctx, req.Next(next)); err != nil {
		return fmt.Errorf("requesting next %s chunk: %w", service, err)
	}

	logger.Info().
		Int("records", len(page)).
		Str("next_cursor", next).
		Msg("wrote export chunk, requested next")
	return nil
}

func (o *Orchestrator[R]) advances(from, next string) bool {
	if next == "" || next == from {
		return false
	}
	if orderer, ok := o.source.(CursorOrderer); ok {
		return orderer.CursorLess(from, next)
	}
	return true
}

func (o *Orchestrator[R]) write(ctx context.Context, req Request, records []R) error {
	service := o.source.Service()

	formatted, err := o.source.Format(records)
	if err != nil {
		return fmt.Errorf("formatting %s records: %w", service, err)
	}

	key := o.source.FileKey(req.EncodedID, req.Part)
	if err := o.source.Write(ctx, formatted, key); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}

	o.metrics.recordChunk(ctx, service, len(records))
	return nil
}

func (o *Orchestrator[R]) complete(ctx context.Context, logger zerolog.Logger, req Request) error {
	service := o.source.Service()
	pc := PartComplete{
		EncodedID: req.EncodedID,
		RequestID: req.RequestID,
		Service:   service,
		Timestamp: o.now().UTC(),
		Prefix:    o.layout.Prefix(req.EncodedID),
	}

	if err := o.notifier.NotifyComplete(ctx, pc); err != nil {
		return fmt.Errorf("notifying %s completion: %w", service, err)
	}

	o.metrics.recordCompleted(ctx, service)
	logger.Info().Str("prefix", pc.Prefix).Msg("export complete")
	return nil
}
