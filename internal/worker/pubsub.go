package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/readlater/readlater/internal/events"
	"github.com/readlater/readlater/internal/export"
)

// CompletionSubscriber consumes export-part-complete events from a Pub/Sub
// subscription and hands them to a Notifier, normally the export tracker
// that assembles archives.
type CompletionSubscriber struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	notifier         export.Notifier
	logger           zerolog.Logger
}

// SubscriberConfig holds configuration for the completion subscriber.
type SubscriberConfig struct {
	ProjectID        string
	SubscriptionName string
	Notifier         export.Notifier
	Logger           zerolog.Logger
}

// NewCompletionSubscriber creates a Pub/Sub client and a subscriber for cfg.SubscriptionName.
func NewCompletionSubscriber(ctx context.Context, cfg SubscriberConfig) (*CompletionSubscriber, error) {
	if cfg.Notifier == nil {
		return nil, errors.New("completion subscriber requires a notifier")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Archive assembly is slow and serialized per export.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &CompletionSubscriber{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		notifier:         cfg.Notifier,
		logger:           cfg.Logger,
	}, nil
}

// Start receives messages until ctx is canceled.
func (s *CompletionSubscriber) Start(ctx context.Context) error {
	s.logger.Info().
		Str("subscription", s.subscriptionName).
		Msg("starting completion subscriber")

	return s.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if s.handle(ctx, msg.ID, msg.PublishTime, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Close closes the Pub/Sub client.
func (s *CompletionSubscriber) Close() error {
	return s.client.Close()
}

// handle reports whether the message should be acked.
func (s *CompletionSubscriber) handle(ctx context.Context, id string, published time.Time, data []byte) bool {
	startTime := time.Now()

	logger := s.logger.With().
		Str("message_id", id).
		Str("publish_time", published.Format(time.RFC3339)).
		Logger()

	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		return false
	}

	if ev.DetailType != export.PartCompleteDetailType {
		// Other event types share the topic.
		logger.Debug().Str("detail_type", ev.DetailType).Msg("ignoring event")
		return true
	}

	pc, err := export.DecodePartComplete(ev)
	if err != nil {
		logger.Error().Err(err).Msg("failed to decode completion event")
		return false
	}

	logger = logger.With().
		Str("request_id", pc.RequestID).
		Str("service", pc.Service).
		Logger()

	if err := s.notifier.NotifyComplete(ctx, pc); err != nil {
		logger.Error().Err(err).Msg("completion handling failed")
		return false
	}

	logger.Info().
		Dur("duration", time.Since(startTime)).
		Msg("completion handled")
	return true
}
