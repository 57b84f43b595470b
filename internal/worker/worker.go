package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/readlater/readlater/internal/export"
	"github.com/readlater/readlater/internal/library"
	"github.com/readlater/readlater/internal/queue"
	"github.com/readlater/readlater/internal/storage"
	"github.com/readlater/readlater/internal/telemetry"
)

// Deps holds everything the worker wires together.
type Deps struct {
	Config Config

	// Library is read by the export sources.
	Library library.Repository

	// Store receives chunk files.
	Store storage.ObjectStore

	// Queues maps each export service to the queue that drives it. The same
	// queue receives the service's continuation messages.
	Queues map[string]queue.Client

	// Users re-attaches user ids to continuation messages.
	Users export.UserDirectory

	// Notifier announces completed service exports.
	Notifier export.Notifier

	// Emitter carries the poll signals. Default: queue.NewEmitter().
	Emitter queue.Emitter

	// DisablePollOnInit leaves consumers idle until Start is called.
	DisablePollOnInit bool

	Logger   zerolog.Logger
	Tracer   trace.Tracer
	Reporter telemetry.ErrorReporter
}

// Worker owns one queue consumer per export service.
type Worker struct {
	consumers []*queue.Consumer
	logger    zerolog.Logger
}

// shared is the per-worker state handed to each service's assembly.
type shared struct {
	deps          Deps
	emitter       queue.Emitter
	queueMetrics  *queue.Metrics
	exportMetrics *export.Metrics
}

// New builds and, unless DisablePollOnInit is set, starts a consumer for every
// export service. ctx bounds the consumers' lifetime.
func New(ctx context.Context, deps Deps) (*Worker, error) {
	if deps.Library == nil || deps.Store == nil || deps.Notifier == nil || deps.Users == nil {
		return nil, errors.New("worker requires a library repository, a store, a user directory and a notifier")
	}
	if deps.Config.PageSize <= 0 {
		deps.Config.PageSize = export.DefaultPageSize
	}
	if deps.Config.Layout.PartsPrefix == "" {
		deps.Config.Layout = export.DefaultLayout()
	}
	if deps.Reporter == nil {
		deps.Reporter = telemetry.NopReporter{}
	}

	emitter := deps.Emitter
	if emitter == nil {
		emitter = queue.NewEmitter()
	}
	qm, err := queue.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating queue metrics: %w", err)
	}
	em, err := export.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("creating export metrics: %w", err)
	}

	s := shared{
		deps:          deps,
		emitter:       emitter,
		queueMetrics:  qm,
		exportMetrics: em,
	}
	layout := deps.Config.Layout

	w := &Worker{logger: deps.Logger}

	list, err := newConsumer[*library.SavedItem](ctx, s, library.NewListSource(deps.Library, deps.Store, layout))
	if err != nil {
		return nil, err
	}
	w.consumers = append(w.consumers, list)

	annotations, err := newConsumer[*library.Annotation](ctx, s, library.NewAnnotationsSource(deps.Library, deps.Store, layout))
	if err != nil {
		list.Stop()
		return nil, err
	}
	w.consumers = append(w.consumers, annotations)

	w.logger.Info().
		Int("consumers", len(w.consumers)).
		Int("page_size", deps.Config.PageSize).
		Msg("export worker assembled")
	return w, nil
}

// newConsumer wires src into an orchestrator, a chunk handler and a consumer
// polling the service's queue.
func newConsumer[R any](ctx context.Context, s shared, src export.Source[R]) (*queue.Consumer, error) {
	service := src.Service()
	client, ok := s.deps.Queues[service]
	if !ok || client == nil {
		return nil, fmt.Errorf("no queue configured for %s", service)
	}
	qc, ok := s.deps.Config.Queues[service]
	if !ok {
		qc = queue.DefaultConfig("export-" + service)
	}

	logger := s.deps.Logger.With().Str("component", "export").Logger()

	orch, err := export.New(export.Config[R]{
		Source:    src,
		Layout:    s.deps.Config.Layout,
		Continuer: export.QueueContinuer{Sender: client},
		Notifier:  s.deps.Notifier,
		Logger:    logger,
		Tracer:    s.deps.Tracer,
		Reporter:  s.deps.Reporter,
		Metrics:   s.exportMetrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s orchestrator: %w", service, err)
	}

	handler := export.NewHandler(orch, export.HandlerConfig{
		PageSize: s.deps.Config.PageSize,
		Users:    s.deps.Users,
		Logger:   logger,
	})

	consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
		Emitter:           s.emitter,
		EventName:         "poll:" + service,
		Queue:             qc,
		Client:            client,
		Handler:           handler,
		Logger:            s.deps.Logger,
		Tracer:            s.deps.Tracer,
		Reporter:          s.deps.Reporter,
		Metrics:           s.queueMetrics,
		DisablePollOnInit: s.deps.DisablePollOnInit,
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s consumer: %w", service, err)
	}
	return consumer, nil
}

// Start begins polling on every consumer that is idle.
func (w *Worker) Start() {
	for _, c := range w.consumers {
		c.Start()
	}
}

// Stop stops scheduling polls. Messages already being handled run to completion.
func (w *Worker) Stop() {
	for _, c := range w.consumers {
		c.Stop()
	}
}

// Wait blocks until every consumer is idle after Stop, or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	for _, c := range w.consumers {
		select {
		case <-c.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s consumer: %w", c.Name(), ctx.Err())
		}
	}
	return nil
}

// Stats returns a snapshot of every consumer, ordered by queue name.
func (w *Worker) Stats() []queue.Stats {
	stats := make([]queue.Stats, 0, len(w.consumers))
	for _, c := range w.consumers {
		stats = append(stats, c.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Queue < stats[j].Queue })
	return stats
}
