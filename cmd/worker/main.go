// Package main provides the entry point for the bibliography service worker.
// The worker relays outbox events to Kafka and applies billing credit grants.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/litforge/bibliography-service/internal/config"
	"github.com/litforge/bibliography-service/internal/credits"
	"github.com/litforge/bibliography-service/internal/database"
	"github.com/litforge/bibliography-service/internal/observability"
	"github.com/litforge/bibliography-service/internal/outbox"
	"github.com/litforge/bibliography-service/internal/repository"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "worker").Logger()
	logger.Info().Msg("bibliography-service worker starting")

	if !cfg.Kafka.Enabled {
		return errors.New("kafka is disabled; the worker has nothing to run")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("bibliography")
	}

	outboxRepo := repository.NewPgOutboxRepository(db)
	ledgerRepo := repository.NewPgLedgerRepository(db)

	// Outbox relay: pending event rows move to the outbox topic. The hash
	// balancer keys on aggregate ID so each run's events stay ordered.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.OutboxTopic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	defer func() {
		if closeErr := writer.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close kafka writer")
		}
	}()

	relay := outbox.NewRelay(outboxRepo, writer, outbox.RelayConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
	}, metrics, logger)

	// Billing listener: credit grants from the billing topic land in the
	// ledger, deduplicated by event ID.
	listener := credits.NewListener(credits.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.BillingTopic,
		GroupID: cfg.Kafka.ConsumerGroup,
	}, ledgerRepo, metrics, logger)
	defer func() {
		if closeErr := listener.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close billing listener")
		}
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.Server.MetricsAddress(),
			Handler: metricsMux,
		}
	}

	errCh := make(chan error, 3)

	go func() {
		logger.Info().
			Str("topic", cfg.Kafka.OutboxTopic).
			Msg("outbox relay starting")
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("outbox relay error: %w", err)
		}
	}()

	go func() {
		logger.Info().
			Str("topic", cfg.Kafka.BillingTopic).
			Str("group", cfg.Kafka.ConsumerGroup).
			Msg("billing listener starting")
		if err := listener.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("billing listener error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().Str("address", metricsServer.Addr).Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	logger.Info().Msg("bibliography-service worker is ready")

	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("worker error")
		return err
	}

	logger.Info().Msg("shutting down worker")
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("worker shutdown complete")
	return nil
}
