package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tetherhq/tether-api/internal/config"
	"github.com/tetherhq/tether-api/internal/errtrack"
	"github.com/tetherhq/tether-api/internal/generation"
	"github.com/tetherhq/tether-api/internal/ingest"
	"github.com/tetherhq/tether-api/internal/jobs"
	"github.com/tetherhq/tether-api/internal/jobs/handlers"
	"github.com/tetherhq/tether-api/internal/platform/gemini"
	"github.com/tetherhq/tether-api/internal/platform/metrics"
	"github.com/tetherhq/tether-api/internal/platform/postgres"
	"github.com/tetherhq/tether-api/internal/retry"
	"github.com/tetherhq/tether-api/internal/service/auth"
	"github.com/tetherhq/tether-api/internal/store"
)

// application holds the wired dependency graph for the server process.
type application struct {
	config *config.Config
	logger *slog.Logger
	db     *sql.DB

	jobStore       store.JobStore
	errorStore     store.ErrorStore
	ingestionStore store.IngestionStore

	jwtService    auth.JWTService
	tracker       *errtrack.Tracker
	enqueuer      *jobs.Enqueuer
	runner        *jobs.Runner
	orchestrator  *retry.Orchestrator
	ingestService *ingest.Service
	promRegistry  *prometheus.Registry
}

// newApplication wires stores, services, and the job pipeline from config.
func newApplication(
	ctx context.Context,
	cfg *config.Config,
	appLogger *slog.Logger,
) (*application, error) {
	db, err := openDatabase(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	jwtService, err := auth.NewJWTService(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWT service: %w", err)
	}

	jobStore := postgres.NewPostgresJobStore(db, appLogger)
	errorStore := postgres.NewPostgresErrorStore(db, appLogger)
	ingestionStore := postgres.NewPostgresIngestionStore(db, appLogger)

	tracker := errtrack.NewTracker(errorStore, appLogger)
	enqueuer := jobs.NewEnqueuer(jobStore, appLogger)
	ingestService := ingest.NewService(ingestionStore, enqueuer, appLogger)

	promRegistry := prometheus.NewRegistry()
	jobMetrics := metrics.NewJobMetrics(promRegistry)

	handlerList := []jobs.Handler{
		handlers.NewNormalizeHandler(ingestionStore, appLogger),
		handlers.NewIngestionBatchHandler(enqueuer, appLogger),
		handlers.NewCleanupHandler(jobStore, errorStore, appLogger),
	}

	// Generation-backed handlers are only available when an API key is
	// configured; their job kinds fail with "no handler" otherwise.
	if cfg.LLM.GeminiAPIKey != "" {
		var generator generation.Generator
		generator, err = gemini.NewGenerator(ctx, appLogger, cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("failed to create generator: %w", err)
		}
		handlerList = append(handlerList,
			handlers.NewEmbedHandler(ingestionStore, generator, appLogger),
			handlers.NewInsightHandler(ingestionStore, generator, appLogger))
	} else {
		appLogger.Warn("no LLM API key configured; embed and insight jobs will not run")
	}

	// Provider sync handlers need injected provider clients. None ship
	// with this service; the host application registers its own.
	appLogger.Info("no provider clients configured; sync jobs will not run")

	registry := jobs.NewRegistry(handlerList...)

	runner := jobs.NewRunner(
		jobStore,
		tracker,
		registry,
		jobMetrics,
		jobs.RunnerConfig{
			DefaultMaxJobs:        cfg.Jobs.DefaultMaxJobs,
			StuckThreshold:        time.Duration(cfg.Jobs.StuckThresholdMinutes) * time.Minute,
			DispatchRatePerSecond: cfg.Jobs.DispatchRatePerSecond,
		},
		appLogger,
	)

	orchestrator := retry.NewOrchestrator(
		jobStore,
		errorStore,
		runner,
		nil, // credential refresh is provided by the host application
		retry.Config{
			DefaultMaxRetries: cfg.Jobs.MaxRetries,
			BaseInterval:      time.Duration(cfg.Jobs.RetryBaseIntervalMinutes) * time.Minute,
		},
		appLogger,
	)

	return &application{
		config:         cfg,
		logger:         appLogger,
		db:             db,
		jobStore:       jobStore,
		errorStore:     errorStore,
		ingestionStore: ingestionStore,
		jwtService:     jwtService,
		tracker:        tracker,
		enqueuer:       enqueuer,
		runner:         runner,
		orchestrator:   orchestrator,
		ingestService:  ingestService,
		promRegistry:   promRegistry,
	}, nil
}

// cleanup releases resources held by the application.
func (app *application) cleanup() {
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database connection", "error", err)
		}
	}
}

// openDatabase opens and verifies the PostgreSQL connection pool.
func openDatabase(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
