// Package main provides the entrypoint for the readlater API server.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/readlater/readlater/internal/api"
	"github.com/readlater/readlater/internal/api/handler"
	"github.com/readlater/readlater/internal/api/middleware"
	"github.com/readlater/readlater/internal/auth"
	"github.com/readlater/readlater/internal/database"
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
	const serviceName = "readlater-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting readlater API")

	// The API enqueues to the same queues the worker polls.
	exportCfg, err := worker.ConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid export configuration")
	}

	downloadTTL := gdpr.DefaultDownloadURLTTL
	if v := os.Getenv("EXPORT_DOWNLOAD_URL_TTL"); v != "" {
		downloadTTL, err = time.ParseDuration(v)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid EXPORT_DOWNLOAD_URL_TTL")
		}
	}
	staleAfter := gdpr.DefaultStaleAfter
	if v := os.Getenv("EXPORT_STALE_AFTER"); v != "" {
		staleAfter, err = time.ParseDuration(v)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid EXPORT_STALE_AFTER")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryCfg := telemetry.ConfigFromEnv(serviceName, Version)
	tp, err := telemetry.Init(ctx, telemetryCfg)
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

	if telemetryCfg.Enabled {
		log.Info().
			Str("otlp_endpoint", telemetryCfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
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

	if err := database.RunMigrations(ctx, pool, log); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		jwtSigningKey = "local-dev-signing-key-change-in-production"
		log.Warn().Msg("using default JWT signing key - not secure for production")
	}
	jwtService := auth.NewJWTService(auth.JWTConfig{
		SigningKey: jwtSigningKey,
		Issuer:     os.Getenv("JWT_ISSUER"),
		Audience:   os.Getenv("JWT_AUDIENCE"),
	})

	deps := resilience.NewRegistry()
	transport, err := worker.NewTransport(ctx, exportCfg, deps, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize export transport")
	}

	users := user.NewDirectory(user.NewPostgresRepository(pool))
	exports := gdpr.NewService(gdpr.Config{
		Repo:           gdpr.NewPostgresRepository(pool),
		Users:          users,
		Layout:         exportCfg.Layout,
		Queues:         transport.Senders(),
		Store:          transport.Store,
		Signer:         transport.Signer,
		DownloadURLTTL: downloadTTL,
		StaleAfter:     staleAfter,
		Logger:         log,
	})
	log.Info().Strs("services", exports.Services()).Msg("export service initialized")

	// In-memory queues are only reachable from this process, so the API runs
	// the export consumers itself.
	if exportCfg.QueueBackend == worker.BackendMemory {
		log.Warn().Msg("using in-memory queues; running export consumers in-process")
		w, err := worker.New(ctx, worker.Deps{
			Config:   exportCfg,
			Library:  library.NewPostgresRepository(pool),
			Store:    transport.Store,
			Queues:   transport.Queues,
			Users:    users,
			Notifier: exports,
			Logger:   log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start in-process export worker")
		}
		defer w.Stop()
	}

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Tokens:      jwtService,
		Exports:     exports,
		ReadinessChecks: map[string]handler.Checker{
			"database":     database.Checker{Pool: pool},
			"dependencies": deps,
		},
	})

	server := &http.Server{
		Addr:         ":" + exportCfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
