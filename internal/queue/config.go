// Package queue implements the single-flight polling consumer that drives the
// export pipeline, plus the SQS and in-memory message queue clients it polls.
package queue

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// MaxWaitTime is the SQS long-poll ceiling.
const MaxWaitTime = 20 * time.Second

// ErrInvalidConfig is returned by Validate for out-of-range settings.
var ErrInvalidConfig = errors.New("invalid queue config")

// Config describes one work queue and how it is polled. It is immutable once a
// Consumer has been constructed from it.
type Config struct {
	// URL is the queue URL (SQS) or name (in-memory queue).
	URL string

	// Name is used for span and log naming.
	Name string

	// BatchSize is the number of messages requested per poll. Kept at 1 so
	// processing stays serialized.
	BatchSize int

	// MaxMessages caps the messages returned by a single receive call.
	MaxMessages int

	// VisibilityTimeout hides a received message from other receivers until it
	// is deleted or the timeout lapses.
	VisibilityTimeout time.Duration

	// WaitTime is the long-poll duration of a receive call.
	WaitTime time.Duration

	// DefaultPollInterval is the delay before the next poll when no message was found.
	DefaultPollInterval time.Duration

	// AfterMessagePollInterval is the delay before the next poll after a message was handled.
	AfterMessagePollInterval time.Duration

	// MessageRetention is how long the queue keeps undeleted messages.
	MessageRetention time.Duration

	// MaxReceiveCount is the number of receives before a message is dead-lettered.
	MaxReceiveCount int
}

// DefaultConfig returns the configuration used by the export queues.
func DefaultConfig(name string) Config {
	return Config{
		Name:                     name,
		BatchSize:                1,
		MaxMessages:              1,
		VisibilityTimeout:        5 * time.Minute,
		WaitTime:                 20 * time.Second,
		DefaultPollInterval:      5 * time.Minute,
		AfterMessagePollInterval: 0,
		MessageRetention:         14 * 24 * time.Hour,
		MaxReceiveCount:          3,
	}
}

// ConfigFromEnv builds a Config from variables named prefix+SUFFIX, e.g.
// EXPORT_LIST_QUEUE_URL. Interval and timeout variables are whole seconds.
func ConfigFromEnv(prefix, name string) (Config, error) {
	cfg := DefaultConfig(name)
	cfg.URL = os.Getenv(prefix + "URL")
	if v := os.Getenv(prefix + "NAME"); v != "" {
		cfg.Name = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"BATCH_SIZE", &cfg.BatchSize},
		{"MAX_MESSAGES", &cfg.MaxMessages},
		{"MAX_RECEIVE_COUNT", &cfg.MaxReceiveCount},
	}
	for _, f := range ints {
		if err := envInt(prefix+f.key, f.dst); err != nil {
			return Config{}, err
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"VISIBILITY_TIMEOUT", &cfg.VisibilityTimeout},
		{"WAIT_TIME_SECONDS", &cfg.WaitTime},
		{"DEFAULT_POLL_INTERVAL_SECONDS", &cfg.DefaultPollInterval},
		{"AFTER_MESSAGE_POLL_INTERVAL_SECONDS", &cfg.AfterMessagePollInterval},
		{"MESSAGE_RETENTION_SECONDS", &cfg.MessageRetention},
	}
	for _, f := range durations {
		var secs int
		present := os.Getenv(prefix+f.key) != ""
		if err := envInt(prefix+f.key, &secs); err != nil {
			return Config{}, err
		}
		if present {
			*f.dst = time.Duration(secs) * time.Second
		}
	}

	return cfg, cfg.Validate()
}

// Validate checks that intervals and timeouts are non-negative and that the
// long-poll duration does not exceed MaxWaitTime.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if c.BatchSize < 1 || c.MaxMessages < 1 {
		return fmt.Errorf("%w: batch size and max messages must be at least 1", ErrInvalidConfig)
	}
	for label, d := range map[string]time.Duration{
		"visibility timeout":          c.VisibilityTimeout,
		"wait time":                   c.WaitTime,
		"default poll interval":       c.DefaultPollInterval,
		"after message poll interval": c.AfterMessagePollInterval,
		"message retention":           c.MessageRetention,
	} {
		if d < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, label)
		}
	}
	if c.WaitTime > MaxWaitTime {
		return fmt.Errorf("%w: wait time %s exceeds %s", ErrInvalidConfig, c.WaitTime, MaxWaitTime)
	}
	if c.MaxReceiveCount < 0 {
		return fmt.Errorf("%w: max receive count must not be negative", ErrInvalidConfig)
	}
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	*dst = n
	return nil
}
