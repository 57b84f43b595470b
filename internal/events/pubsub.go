package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"

	"github.com/readlater/readlater/internal/resilience"
)

// Message attribute keys set on every published event.
const (
	AttrDetailType = "detail-type"
	AttrSource     = "source"
)

type messagePublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
}

type topicPublisher struct {
	p *pubsub.Publisher
}

func (t topicPublisher) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	return t.p.Publish(ctx, msg).Get(ctx)
}

// PubSubConfig holds configuration for the Pub/Sub publisher.
type PubSubConfig struct {
	ProjectID string
	TopicID   string

	// Executor retries publishes. Optional.
	Executor *resilience.Executor

	Logger zerolog.Logger
}

// PubSubPublisher publishes events to a Pub/Sub topic. The event envelope is
// the message data; detail-type and source are copied into attributes so
// subscriptions can filter on them.
type PubSubPublisher struct {
	client    *pubsub.Client
	publisher *pubsub.Publisher
	pub       messagePublisher
	executor  *resilience.Executor
	logger    zerolog.Logger
}

var _ Publisher = (*PubSubPublisher)(nil)

// NewPubSubPublisher creates a Pub/Sub client for cfg.ProjectID and a
// publisher for cfg.TopicID.
func NewPubSubPublisher(ctx context.Context, cfg PubSubConfig) (*PubSubPublisher, error) {
	if cfg.TopicID == "" {
		return nil, errors.New("pubsub publisher requires a topic")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	publisher := client.Publisher(cfg.TopicID)

	return &PubSubPublisher{
		client:    client,
		publisher: publisher,
		pub:       topicPublisher{p: publisher},
		executor:  cfg.Executor,
		logger:    cfg.Logger.With().Str("topic", cfg.TopicID).Logger(),
	}, nil
}

// SendEvent implements Publisher. It blocks until the server acknowledges the message.
func (p *PubSubPublisher) SendEvent(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	var id string
	publish := func(ctx context.Context) error {
		var err error
		id, err = p.pub.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				AttrDetailType: ev.DetailType,
				AttrSource:     ev.Source,
			},
		})
		return err
	}

	if p.executor != nil {
		err = p.executor.Run(ctx, publish)
	} else {
		err = publish(ctx)
	}
	if err != nil {
		return fmt.Errorf("publishing %s event: %w", ev.DetailType, err)
	}

	p.logger.Debug().
		Str("message_id", id).
		Str("detail_type", ev.DetailType).
		Msg("published event")
	return nil
}

// Close flushes pending messages and closes the client.
func (p *PubSubPublisher) Close() error {
	if p.publisher != nil {
		p.publisher.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
