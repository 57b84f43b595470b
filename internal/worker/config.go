// Package worker assembles the export pipeline: one queue consumer, chunk
// handler and orchestrator per export service, all driven by a shared emitter.
package worker

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/readlater/readlater/internal/export"
	"github.com/readlater/readlater/internal/library"
	"github.com/readlater/readlater/internal/queue"
)

// Backend names accepted by QUEUE_BACKEND and EXPORT_EVENTS_BACKEND.
const (
	BackendMemory = "memory"
	BackendSQS    = "sqs"
	BackendPubSub = "pubsub"
)

// DefaultEventSource is the source attribute of completion events.
const DefaultEventSource = "readlater.export"

// Config holds configuration for the export worker.
type Config struct {
	// Port serves the health endpoints.
	Port string

	// Env is the deployment environment name.
	Env string

	// PageSize is the number of records per chunk.
	// Default: export.DefaultPageSize
	PageSize int

	// Bucket receives chunk files and archives. Required for the sqs backend.
	Bucket string

	// Layout places chunk files under PartsPrefix.
	Layout export.Layout

	// ArchivePrefix holds assembled export archives.
	// Default: "archives"
	ArchivePrefix string

	// EventSource is the source attribute of published completion events.
	EventSource string

	// EventsBackend is "pubsub" or "memory".
	// Default: "memory"
	EventsBackend string

	PubSubProjectID    string
	EventsTopic        string
	EventsSubscription string

	// QueueBackend is "sqs" or "memory".
	// Default: "memory"
	QueueBackend string

	// Queues holds one queue configuration per export service.
	Queues map[string]queue.Config
}

// Services returns the export services the worker serves.
func Services() []string {
	return []string{library.ServiceList, library.ServiceAnnotations}
}

// QueueEnvPrefix returns the environment prefix of a service's queue
// variables, e.g. EXPORT_LIST_QUEUE_.
func QueueEnvPrefix(service string) string {
	return "EXPORT_" + strings.ToUpper(service) + "_QUEUE_"
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	queues := make(map[string]queue.Config, len(Services()))
	for _, svc := range Services() {
		cfg := queue.DefaultConfig("export-" + svc)
		cfg.URL = "export-" + svc
		queues[svc] = cfg
	}
	return Config{
		Port:          "8080",
		Env:           "development",
		PageSize:      export.DefaultPageSize,
		Layout:        export.DefaultLayout(),
		ArchivePrefix: "archives",
		EventSource:   DefaultEventSource,
		EventsBackend: BackendMemory,
		QueueBackend:  BackendMemory,
		Queues:        queues,
	}
}

// ConfigFromEnv creates a Config from environment variables.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	cfg.Port = getEnvOrDefault("APP_PORT", cfg.Port)
	cfg.Env = getEnvOrDefault("APP_ENV", cfg.Env)
	cfg.Bucket = os.Getenv("EXPORT_BUCKET")
	cfg.Layout.PartsPrefix = getEnvOrDefault("EXPORT_PARTS_PREFIX", cfg.Layout.PartsPrefix)
	cfg.ArchivePrefix = getEnvOrDefault("EXPORT_ARCHIVE_PREFIX", cfg.ArchivePrefix)
	cfg.EventSource = getEnvOrDefault("EXPORT_EVENT_SOURCE", cfg.EventSource)
	cfg.EventsBackend = getEnvOrDefault("EXPORT_EVENTS_BACKEND", cfg.EventsBackend)
	cfg.PubSubProjectID = os.Getenv("PUBSUB_PROJECT_ID")
	cfg.EventsTopic = getEnvOrDefault("EXPORT_EVENTS_TOPIC", "export-events")
	cfg.EventsSubscription = getEnvOrDefault("EXPORT_EVENTS_SUBSCRIPTION", "export-events-worker")
	cfg.QueueBackend = getEnvOrDefault("QUEUE_BACKEND", cfg.QueueBackend)

	if v := os.Getenv("EXPORT_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("EXPORT_PAGE_SIZE: %w", err)
		}
		cfg.PageSize = n
	}

	for _, svc := range Services() {
		qc, err := queue.ConfigFromEnv(QueueEnvPrefix(svc), "export-"+svc)
		if err != nil {
			return Config{}, fmt.Errorf("%s queue: %w", svc, err)
		}
		if qc.URL == "" {
			qc.URL = cfg.Queues[svc].URL
		}
		cfg.Queues[svc] = qc
	}

	return cfg, cfg.Validate()
}

// Validate checks backend names and the settings each backend needs.
func (c Config) Validate() error {
	if c.PageSize < 1 {
		return errors.New("page size must be at least 1")
	}
	switch c.QueueBackend {
	case BackendMemory:
	case BackendSQS:
		if c.Bucket == "" {
			return errors.New("EXPORT_BUCKET is required with the sqs backend")
		}
	default:
		return fmt.Errorf("unknown queue backend %q", c.QueueBackend)
	}
	switch c.EventsBackend {
	case BackendMemory:
	case BackendPubSub:
		if c.PubSubProjectID == "" || c.EventsTopic == "" {
			return errors.New("PUBSUB_PROJECT_ID and EXPORT_EVENTS_TOPIC are required with the pubsub backend")
		}
	default:
		return fmt.Errorf("unknown events backend %q", c.EventsBackend)
	}
	for _, svc := range Services() {
		qc, ok := c.Queues[svc]
		if !ok {
			return fmt.Errorf("missing queue config for %s", svc)
		}
		if err := qc.Validate(); err != nil {
			return fmt.Errorf("%s queue: %w", svc, err)
		}
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
