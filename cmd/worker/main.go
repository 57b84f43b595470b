// Package main provides the entrypoint for the readlater export worker.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/readlater/readlater/internal/api/handler"
	"github.com/readlater/readlater/internal/database"
	"github.com/readlater/readlater/internal/events"
	"github.com/readlater/readlater/internal/export"
	"github.com/readlater/readlater/internal/gdpr"
	"github.com/readlater/readlater/internal/library"
	"github.com/readlater/readlater/internal/resilience"
	"github.com/readlater/readlater/internal/telemetry"
	"github.com/readlater/readlater/internal/user"
	"github.com/readlater/readlater/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "readlater-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting readlater export worker")

	cfg, err := worker.ConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid worker configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := telemetry.Init(ctx, telemetry.ConfigFromEnv(serviceName, Version))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	reporter, err := telemetry.NewReporter("worker")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize error reporter")
	}

	dbConfig := database.ConfigFromEnv()
	pool, err := database.Connect(ctx, dbConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	log.Info().
		Str("host", dbConfig.Host).
		Int("port", dbConfig.Port).
		Str("database", dbConfig.Database).
		Msg("database connected")

	// The API owns migrations; the worker waits for them.
	if err := database.WaitForSchema(ctx, pool, 2*time.Minute, 5*time.Second, log); err != nil {
		log.Fatal().Err(err).Msg("database schema not ready")
	}

	deps := resilience.NewRegistry()

	transport, err := worker.NewTransport(ctx, cfg, deps, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize export transport")
	}
	if cfg.QueueBackend == worker.BackendMemory {
		log.Warn().Msg("using in-memory queues and store; exports do not survive a restart")
	}

	users := user.NewDirectory(user.NewPostgresRepository(pool))
	exports := gdpr.NewService(gdpr.Config{
		Repo:   gdpr.NewPostgresRepository(pool),
		Users:  users,
		Layout: cfg.Layout,
		Store:  transport.Store,
		Logger: log,
	})

	notifier, closeEvents := buildNotifier(ctx, log, cfg, deps, exports)
	defer closeEvents()

	w, err := worker.New(ctx, worker.Deps{
		Config:   cfg,
		Library:  library.NewPostgresRepository(pool),
		Store:    transport.Store,
		Queues:   transport.Queues,
		Users:    users,
		Notifier: notifier,
		Logger:   log,
		Tracer:   tp.Tracer,
		Reporter: reporter,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start export worker")
	}

	server := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: worker.NewHealthRouter(w, worker.HealthRouterConfig{
			Version:   Version,
			BuildTime: BuildTime,
			Logger:    log,
			Checks: map[string]handler.Checker{
				"database":     database.Checker{Pool: pool},
				"dependencies": deps,
			},
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// In-flight chunks finish before the process exits.
	w.Stop()
	if err := w.Wait(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("consumers did not stop in time")
	}
	cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}

// buildNotifier returns the completion notifier handed to the orchestrators
// and a func releasing any event bus clients.
//
// With Pub/Sub, completions are published and the archive is assembled by
// the subscriber. In memory mode the tracker is notified directly.
func buildNotifier(ctx context.Context, log zerolog.Logger, cfg worker.Config, deps *resilience.Registry, exports *gdpr.Service) (export.Notifier, func()) {
	if cfg.EventsBackend == worker.BackendMemory {
		return export.MultiNotifier{
			export.EventNotifier{Publisher: events.NewMemoryPublisher(), Source: cfg.EventSource},
			exports,
		}, func() {}
	}

	pub, err := events.NewPubSubPublisher(ctx, events.PubSubConfig{
		ProjectID: cfg.PubSubProjectID,
		TopicID:   cfg.EventsTopic,
		Executor:  worker.NewExecutor("pubsub", deps),
		Logger:    log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	sub, err := worker.NewCompletionSubscriber(ctx, worker.SubscriberConfig{
		ProjectID:        cfg.PubSubProjectID,
		SubscriptionName: cfg.EventsSubscription,
		Notifier:         exports,
		Logger:           log.With().Str("component", "completions").Logger(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create completion subscriber")
	}
	go func() {
		if err := sub.Start(ctx); err != nil {
			log.Error().Err(err).Msg("completion subscriber stopped")
		}
	}()

	return export.EventNotifier{Publisher: pub, Source: cfg.EventSource}, func() {
		if err := sub.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close completion subscriber")
		}
		if err := pub.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close event publisher")
		}
	}
}
