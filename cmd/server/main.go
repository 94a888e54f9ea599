// Package main provides the entry point for the bibliography service API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/litforge/bibliography-service/internal/auth"
	"github.com/litforge/bibliography-service/internal/config"
	"github.com/litforge/bibliography-service/internal/database"
	"github.com/litforge/bibliography-service/internal/domain"
	"github.com/litforge/bibliography-service/internal/llm"
	"github.com/litforge/bibliography-service/internal/observability"
	"github.com/litforge/bibliography-service/internal/outbox"
	"github.com/litforge/bibliography-service/internal/papersources"
	"github.com/litforge/bibliography-service/internal/papersources/embase"
	"github.com/litforge/bibliography-service/internal/papersources/pubmed"
	"github.com/litforge/bibliography-service/internal/repository"
	"github.com/litforge/bibliography-service/internal/search"
	httpserver "github.com/litforge/bibliography-service/internal/server/http"
	"github.com/litforge/bibliography-service/internal/workflow"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("bibliography-service server starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL.
	db, err := database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("database connection established")

	// Run migrations if configured.
	if cfg.Database.MigrationAutoRun {
		migrator, err := database.NewMigrator(db, cfg.Database.MigrationPath, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := migrator.Up(); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics("bibliography")
	}

	// Create repositories.
	runRepo := repository.NewPgRunRepository(db)
	ledgerRepo := repository.NewPgLedgerRepository(db)
	userRepo := repository.NewPgUserRepository(db)
	outboxRepo := repository.NewPgOutboxRepository(db)

	// Register the configured paper sources.
	registry := buildRegistry(cfg)
	if len(registry.Names()) == 0 {
		return errors.New("no paper sources enabled")
	}
	logger.Info().Strs("sources", registry.Names()).Msg("paper sources registered")

	// Authentication.
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth JWT secret is not configured")
	}
	tokens := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenExpiry)
	authSvc := auth.NewService(userRepo, ledgerRepo, tokens, auth.Config{
		BCryptCost:        cfg.Auth.BCryptCost,
		InitialCredits:    cfg.Auth.InitialCredits,
		AllowRegistration: cfg.Auth.AllowRegistration,
	}, logger)

	if cfg.Auth.AdminEmail != "" {
		if cfg.Auth.AdminPassword == "" {
			return errors.New("auth admin email is set but the admin password is empty")
		}
		if _, err := authSvc.BootstrapAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
			return fmt.Errorf("bootstrap admin: %w", err)
		}
	}

	// Run lifecycle events go through the transactional outbox; the worker
	// relays them to Kafka.
	events := outbox.NewEmitter(outboxRepo, "")

	orchestrator := workflow.NewOrchestrator(
		runRepo,
		ledgerRepo,
		events,
		registry,
		nil,
		workflow.Config{
			DefaultSource:     defaultSource(cfg),
			SearchConcurrency: cfg.Workflow.SearchConcurrency,
			MaxQueryRewrites:  cfg.Workflow.MaxQueryRewrites,
			MaxDirections:     cfg.Workflow.MaxDirections,
			DefaultMaxResults: cfg.Workflow.DefaultMaxResults,
			Retry: workflow.RetryPolicy{
				MaxRetries: cfg.Workflow.Retry.MaxRetries,
				BaseDelay:  cfg.Workflow.Retry.BackoffBase,
				MaxDelay:   cfg.Workflow.Retry.BackoffCap,
			},
			LLMTimeout: cfg.AI.Timeout,
		},
		metrics,
		logger,
	)

	catalog := buildProviderCatalog(cfg)

	// One-shot search and query endpoints share a gate with the same
	// policy as workflow runs.
	pool := workflow.NewPermitPool(cfg.Workflow.SearchConcurrency, metrics)
	gate := workflow.NewCallGate(pool, workflow.RetryPolicy{
		MaxRetries: cfg.Workflow.Retry.MaxRetries,
		BaseDelay:  cfg.Workflow.Retry.BackoffBase,
		MaxDelay:   cfg.Workflow.Retry.BackoffCap,
	}, logger)
	searchSvc := search.New(registry, gate, buildSummarizer(cfg, catalog, logger), metrics, logger)

	querygen, err := buildQueryGenerator(cfg, catalog)
	if err != nil {
		return err
	}

	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}
	httpSrv := httpserver.NewServer(httpCfg, httpserver.Deps{
		Auth:          authSvc,
		Workflows:     orchestrator,
		Search:        searchSvc,
		Queries:       querygen,
		Runs:          runRepo,
		Ledger:        ledgerRepo,
		Users:         userRepo,
		Registry:      registry,
		Providers:     catalog,
		DefaultSource: defaultSource(cfg),
		DB:            db,
		Metrics:       metrics,
	}, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
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

	readyLog := logger.Info().Str("http_address", httpCfg.Address)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("bibliography-service is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	// Graceful shutdown.
	logger.Info().Msg("shutting down bibliography-service")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("bibliography-service shutdown complete")
	return nil
}

// buildRegistry registers the enabled paper sources.
func buildRegistry(cfg *config.Config) *papersources.Registry {
	registry := papersources.NewRegistry()

	if cfg.Sources.PubMed.Enabled {
		registry.Register(pubmed.New(pubmed.Config{
			BaseURL:   cfg.Sources.PubMed.BaseURL,
			Email:     cfg.Sources.PubMed.Email,
			APIKey:    cfg.Sources.PubMed.APIKey,
			Timeout:   cfg.Sources.PubMed.SearchTimeout,
			RateLimit: cfg.Sources.PubMed.EffectiveRateLimit(),
		}))
	}
	if cfg.Sources.Embase.Enabled {
		registry.Register(embase.New(embase.Config{
			BaseURL:   cfg.Sources.Embase.BaseURL,
			APIKey:    cfg.Sources.Embase.APIKey,
			InstToken: cfg.Sources.Embase.InstToken,
			Timeout:   cfg.Sources.Embase.Timeout,
			RateLimit: cfg.Sources.Embase.RateLimit,
		}))
	}

	return registry
}

// defaultSource picks the source used when a request names none. PubMed
// needs no credentials, so it wins whenever it is enabled.
func defaultSource(cfg *config.Config) string {
	if cfg.Sources.PubMed.Enabled {
		return "pubmed"
	}
	if cfg.Sources.Embase.Enabled {
		return "embase"
	}
	return ""
}

// buildProviderCatalog maps the AI configuration into the catalog the HTTP
// layer resolves request provider names against.
func buildProviderCatalog(cfg *config.Config) httpserver.ProviderCatalog {
	return httpserver.ProviderCatalog{
		DirectionProvider: cfg.AI.DirectionProvider,
		QueryProvider:     cfg.AI.QueryProvider,
		SummaryProvider:   cfg.AI.SummaryProvider,
		Temperature:       cfg.AI.Temperature,
		OpenAI: httpserver.ProviderCreds{
			APIKey:  cfg.AI.OpenAI.APIKey,
			Model:   cfg.AI.OpenAI.Model,
			BaseURL: cfg.AI.OpenAI.BaseURL,
		},
		Gemini: httpserver.ProviderCreds{
			APIKey:  cfg.AI.Gemini.APIKey,
			Model:   cfg.AI.Gemini.Model,
			BaseURL: cfg.AI.Gemini.BaseURL,
		},
	}
}

// buildQueryGenerator builds the generator behind POST /api/query. No
// configured provider selects rule-based query building; a configured
// provider that cannot be constructed is a startup error.
func buildQueryGenerator(cfg *config.Config, catalog httpserver.ProviderCatalog) (*llm.QueryGenerator, error) {
	pc := catalog.Query("")
	if pc.Provider == "" {
		return llm.NewQueryGenerator(nil), nil
	}
	client, err := clientForRole(cfg, pc)
	if err != nil {
		return nil, fmt.Errorf("construct query provider: %w", err)
	}
	return llm.NewQueryGenerator(client), nil
}

// buildSummarizer builds the optional summarizer for one-shot searches.
func buildSummarizer(cfg *config.Config, catalog httpserver.ProviderCatalog, logger zerolog.Logger) *llm.Summarizer {
	provider := catalog.Summary("")
	if provider.Provider == "" {
		return nil
	}
	client, err := clientForRole(cfg, provider)
	if err != nil {
		logger.Warn().Err(err).Msg("summary provider unavailable, skipping summaries")
		return nil
	}
	return llm.NewSummarizer(client)
}

func clientForRole(cfg *config.Config, pc domain.ProviderConfig) (llm.Client, error) {
	if pc.Provider == "" {
		return nil, errors.New("no provider configured")
	}
	return llm.NewClient(llm.FactoryConfig{
		Provider:    pc.Provider,
		APIKey:      pc.APIKey,
		Model:       pc.Model,
		BaseURL:     pc.BaseURL,
		Temperature: pc.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
}
