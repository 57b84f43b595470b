package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/readlater/readlater/internal/telemetry"
)

const tracerName = "github.com/readlater/readlater/internal/queue"

// defaultDeleteTimeout bounds the delete call made after a successful handle.
const defaultDeleteTimeout = 10 * time.Second

// ConsumerConfig holds the dependencies of a Consumer.
type ConsumerConfig struct {
	// Emitter carries the poll signal. Required.
	Emitter Emitter

	// EventName is the poll signal name. Default: "poll:" + Queue.Name.
	EventName string

	// Queue is the polled queue's configuration.
	Queue Config

	// Client is the queue transport. Required.
	Client Client

	// Handler processes message bodies. Required.
	Handler Handler

	Logger   zerolog.Logger
	Tracer   trace.Tracer
	Reporter telemetry.ErrorReporter
	Metrics  *Metrics

	// DisablePollOnInit stops NewConsumer from emitting the first poll signal.
	// Start must then be called to begin polling.
	DisablePollOnInit bool

	// DeleteTimeout bounds the delete call. Default: 10 seconds.
	DeleteTimeout time.Duration
}

// Consumer polls one queue and hands at most one message at a time to its
// Handler. Each poll cycle reschedules itself through the emitter, so the loop
// only ends when Stop is called or the construction context is canceled.
type Consumer struct {
	cfg           Config
	emitter       Emitter
	eventName     string
	client        Client
	handler       Handler
	logger        zerolog.Logger
	tracer        trace.Tracer
	reporter      telemetry.ErrorReporter
	metrics       *Metrics
	deleteTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	polling  bool
	pending  bool
	timer    *time.Timer
	done     chan struct{}
	doneOnce sync.Once

	polls         atomic.Int64
	received      atomic.Int64
	deleted       atomic.Int64
	failed        atomic.Int64
	discarded     atomic.Int64
	receiveErrors atomic.Int64
	lastPollAt    atomic.Int64
}

// Stats is a snapshot of a consumer's counters.
type Stats struct {
	Queue         string    `json:"queue"`
	Polls         int64     `json:"polls"`
	Received      int64     `json:"received"`
	Deleted       int64     `json:"deleted"`
	Failed        int64     `json:"failed"`
	Discarded     int64     `json:"discarded"`
	ReceiveErrors int64     `json:"receiveErrors"`
	LastPollAt    time.Time `json:"lastPollAt"`
	Polling       bool      `json:"polling"`
}

// NewConsumer validates cfg, registers the poll listener and, unless
// DisablePollOnInit is set, emits the first poll signal. ctx bounds the
// consumer's lifetime; canceling it has the same effect as Stop.
func NewConsumer(ctx context.Context, cfg ConsumerConfig) (*Consumer, error) {
	if err := cfg.Queue.Validate(); err != nil {
		return nil, err
	}
	if cfg.Emitter == nil || cfg.Client == nil || cfg.Handler == nil {
		return nil, errors.New("queue consumer requires an emitter, a client and a handler")
	}

	eventName := cfg.EventName
	if eventName == "" {
		eventName = "poll:" + cfg.Queue.Name
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	reporter := cfg.Reporter
	if reporter == nil {
		reporter = telemetry.NopReporter{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		m, err := NewMetrics()
		if err != nil {
			return nil, fmt.Errorf("creating queue metrics: %w", err)
		}
		metrics = m
	}
	deleteTimeout := cfg.DeleteTimeout
	if deleteTimeout <= 0 {
		deleteTimeout = defaultDeleteTimeout
	}

	c := &Consumer{
		cfg:           cfg.Queue,
		emitter:       cfg.Emitter,
		eventName:     eventName,
		client:        cfg.Client,
		handler:       cfg.Handler,
		logger:        cfg.Logger.With().Str("queue", cfg.Queue.Name).Logger(),
		tracer:        tracer,
		reporter:      reporter,
		metrics:       metrics,
		deleteTimeout: deleteTimeout,
		done:          make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	context.AfterFunc(c.ctx, c.Stop)

	c.emitter.On(eventName, c.poll)

	if !cfg.DisablePollOnInit {
		c.Start()
	}
	return c, nil
}

// Start emits a poll signal. It is a no-op while a poll is already pending or running.
func (c *Consumer) Start() {
	c.mu.Lock()
	if c.pending || c.polling || c.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.pending = true
	c.mu.Unlock()

	c.logger.Info().Msg("starting queue consumer")
	c.emitter.Emit(c.eventName)
}

// Stop prevents any further poll from being scheduled. A message already
// being handled runs to completion with a context that Stop does not cancel;
// Done is closed once the consumer is idle.
func (c *Consumer) Stop() {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil && c.timer.Stop() {
		c.pending = false
	}
	if !c.polling && !c.pending {
		c.finishLocked()
	}
}

// Done is closed when the consumer has stopped and no poll is running.
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

// Name returns the queue name.
func (c *Consumer) Name() string {
	return c.cfg.Name
}

// Stats returns a snapshot of the consumer's counters.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	polling := c.polling
	c.mu.Unlock()

	var last time.Time
	if ns := c.lastPollAt.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return Stats{
		Queue:         c.cfg.Name,
		Polls:         c.polls.Load(),
		Received:      c.received.Load(),
		Deleted:       c.deleted.Load(),
		Failed:        c.failed.Load(),
		Discarded:     c.discarded.Load(),
		ReceiveErrors: c.receiveErrors.Load(),
		LastPollAt:    last,
		Polling:       polling,
	}
}

// poll is the emitter listener. A signal that arrives while a cycle is in
// progress is dropped so that only one receive is ever outstanding.
func (c *Consumer) poll() {
	c.mu.Lock()
	c.pending = false
	if c.polling {
		c.mu.Unlock()
		c.logger.Debug().Msg("poll already in progress, dropping signal")
		return
	}
	if c.ctx.Err() != nil {
		c.finishLocked()
		c.mu.Unlock()
		return
	}
	c.polling = true
	c.mu.Unlock()

	delay := c.pollQueue()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.polling = false
	c.scheduleLocked(delay)
}

func (c *Consumer) scheduleLocked(delay time.Duration) {
	if c.ctx.Err() != nil {
		c.finishLocked()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.pending = true
	c.timer = time.AfterFunc(delay, func() {
		c.emitter.Emit(c.eventName)
	})
}

func (c *Consumer) finishLocked() {
	c.doneOnce.Do(func() {
		c.pending = false
		close(c.done)
		c.logger.Info().Msg("queue consumer stopped")
	})
}

// pollQueue runs one receive/handle cycle and returns the delay before the next one.
func (c *Consumer) pollQueue() time.Duration {
	ctx, span := c.tracer.Start(c.ctx, c.cfg.Name+".poll",
		trace.WithNewRoot(),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(attribute.String("messaging.destination.name", c.cfg.Name)),
	)
	defer span.End()

	c.polls.Add(1)
	c.lastPollAt.Store(time.Now().UnixNano())
	c.metrics.recordPoll(ctx, c.cfg.Name)

	maxMessages := c.cfg.MaxMessages
	if c.cfg.BatchSize < maxMessages {
		maxMessages = c.cfg.BatchSize
	}

	msgs, err := c.client.Receive(ctx, ReceiveInput{
		MaxMessages:       maxMessages,
		VisibilityTimeout: c.cfg.VisibilityTimeout,
		WaitTime:          c.cfg.WaitTime,
	})
	if err != nil {
		if c.ctx.Err() != nil {
			return c.cfg.DefaultPollInterval
		}
		c.receiveErrors.Add(1)
		c.logger.Error().Err(err).Msg("failed to receive messages")
		c.reporter.Report(ctx, err, attribute.String("queue", c.cfg.Name))
		return c.cfg.DefaultPollInterval
	}

	if len(msgs) == 0 {
		c.logger.Debug().Dur("next_poll_in", c.cfg.DefaultPollInterval).Msg("no messages")
		return c.cfg.DefaultPollInterval
	}

	span.SetAttributes(attribute.String("messaging.message.id", msgs[0].ID))
	c.process(ctx, msgs[0])
	return c.cfg.AfterMessagePollInterval
}

func (c *Consumer) process(ctx context.Context, msg Message) {
	logger := c.logger.With().
		Str("message_id", msg.ID).
		Int("receive_count", msg.ReceiveCount).
		Logger()

	c.received.Add(1)
	start := time.Now()

	// Stop must not abort a message already being handled.
	ok, err := c.handle(context.WithoutCancel(ctx), msg.Body)
	c.metrics.recordHandled(ctx, c.cfg.Name, time.Since(start), ok && err == nil)

	if errors.Is(err, ErrUnprocessable) {
		c.discarded.Add(1)
		c.metrics.recordDiscarded(ctx, c.cfg.Name)
		logger.Error().Err(err).Msg("unprocessable message, deleting without retry")
		c.reporter.Report(ctx, err,
			attribute.String("queue", c.cfg.Name),
			attribute.String("message_id", msg.ID),
			attribute.Bool("discarded", true),
		)
		c.delete(ctx, logger, msg)
		return
	}
	if err != nil {
		c.failed.Add(1)
		c.metrics.recordFailed(ctx, c.cfg.Name)
		logger.Error().Err(err).Msg("message handler failed, leaving message for redelivery")
		c.reporter.Report(ctx, err,
			attribute.String("queue", c.cfg.Name),
			attribute.String("message_id", msg.ID),
		)
		return
	}
	if !ok {
		c.failed.Add(1)
		c.metrics.recordFailed(ctx, c.cfg.Name)
		logger.Warn().Msg("message not handled, leaving message for redelivery")
		return
	}

	if c.delete(ctx, logger, msg) {
		logger.Debug().Dur("duration", time.Since(start)).Msg("message handled and deleted")
	}
}

// delete removes msg from the queue and reports whether it succeeded.
func (c *Consumer) delete(ctx context.Context, logger zerolog.Logger, msg Message) bool {
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.deleteTimeout)
	defer cancel()

	if err := c.client.Delete(deleteCtx, msg); err != nil {
		logger.Error().Err(err).Msg("failed to delete message")
		c.reporter.Report(ctx, err,
			attribute.String("queue", c.cfg.Name),
			attribute.String("message_id", msg.ID),
		)
		return false
	}

	c.deleted.Add(1)
	c.metrics.recordDeleted(ctx, c.cfg.Name)
	return true
}

func (c *Consumer) handle(ctx context.Context, body []byte) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("message handler panic: %v", r)
		}
	}()
	return c.handler.HandleMessage(ctx, body)
}
