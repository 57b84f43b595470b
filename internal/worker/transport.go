package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/readlater/readlater/internal/awsclient"
	"github.com/readlater/readlater/internal/queue"
	"github.com/readlater/readlater/internal/resilience"
	"github.com/readlater/readlater/internal/storage"
)

// Transport holds the object store and the per-service export queues.
type Transport struct {
	Store  storage.ObjectStore
	Signer storage.URLSigner
	Queues map[string]queue.Client
}

// Senders returns the queues as senders, for enqueuing first chunks.
func (t *Transport) Senders() map[string]queue.Sender {
	out := make(map[string]queue.Sender, len(t.Queues))
	for svc, q := range t.Queues {
		out[svc] = q
	}
	return out
}

// NewTransport builds the transport for cfg.QueueBackend. With the sqs backend
// the store is the configured S3 bucket and every queue is created if it does
// not exist. Outbound S3 calls run through an executor registered with deps.
func NewTransport(ctx context.Context, cfg Config, deps *resilience.Registry, logger zerolog.Logger) (*Transport, error) {
	queues := make(map[string]queue.Client, len(cfg.Queues))

	if cfg.QueueBackend == BackendMemory {
		for svc, qc := range cfg.Queues {
			queues[svc] = queue.NewMemoryQueue(qc.MaxReceiveCount)
		}
		store := storage.NewMemoryStore(cfg.ArchivePrefix)
		return &Transport{Store: store, Signer: store, Queues: queues}, nil
	}

	aws, err := awsclient.NewManager(ctx, awsclient.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %w", err)
	}

	s3Client := aws.S3()
	store, err := storage.NewS3Store(storage.S3StoreConfig{
		Client:        s3Client,
		Presigner:     aws.Presigner(s3Client),
		Bucket:        cfg.Bucket,
		ArchivePrefix: cfg.ArchivePrefix,
		Executor:      NewExecutor("s3", deps),
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store: %w", err)
	}

	sqsClient := aws.SQS()
	for svc, qc := range cfg.Queues {
		url, err := queue.EnsureQueue(ctx, sqsClient, qc)
		if err != nil {
			return nil, fmt.Errorf("resolving %s queue: %w", svc, err)
		}
		queues[svc] = queue.NewSQSClient(sqsClient, url)
		logger.Info().Str("service", svc).Str("queue_url", url).Msg("export queue ready")
	}

	logger.Info().
		Str("region", aws.Region()).
		Str("bucket", cfg.Bucket).
		Msg("AWS transport initialized")
	return &Transport{Store: store, Signer: store, Queues: queues}, nil
}

// NewExecutor returns the default executor for name, registered with deps.
func NewExecutor(name string, deps *resilience.Registry) *resilience.Executor {
	cfg := resilience.DefaultExecutorConfig(name)
	cfg.Registry = deps
	return resilience.NewExecutor(cfg)
}
