package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/honeyhive/backend/internal/auth"
	"github.com/honeyhive/backend/internal/config"
	"github.com/honeyhive/backend/internal/dashboard"
	"github.com/honeyhive/backend/internal/events"
	"github.com/honeyhive/backend/internal/handlers"
	"github.com/honeyhive/backend/internal/jobs"
	"github.com/honeyhive/backend/internal/metrics"
	"github.com/honeyhive/backend/internal/reconcile"
	"github.com/honeyhive/backend/internal/repository"
	"github.com/honeyhive/backend/internal/router"
	"github.com/honeyhive/backend/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		slog.Error("Invalid DATABASE_URL", "error", err)
		os.Exit(1)
	}
	// Row locks on a hot balance fail fast and surface as ErrBusy, which the
	// coordinator retries.
	poolCfg.ConnConfig.RuntimeParams["lock_timeout"] = "2s"
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := repository.Migrate(ctx, pool); err != nil {
		slog.Error("Schema migration failed", "error", err)
		os.Exit(1)
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Migrations applied")

	validator, err := services.NewValidator()
	if err != nil {
		slog.Error("Schema validator init failed", "error", err)
		os.Exit(1)
	}

	// Stores
	balanceRepo := repository.NewBalanceRepo(pool)
	ledgerRepo := repository.NewLedgerRepo(pool)
	appRepo := repository.NewApplicationRepo(pool)
	jobsRepo := jobs.NewRepository(pool)
	authRepo := auth.NewRepository(pool)

	// Events
	var publisher interface {
		services.EventPublisher
		Close() error
	} = events.NopPublisher{}
	if cfg.KafkaBrokers != "" {
		publisher = events.NewKafkaPublisher(events.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, logger))
		slog.Info("Publishing events to Kafka", "topic", cfg.KafkaTopic)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			slog.Warn("Closing event publisher", "error", err)
		}
	}()

	// Coordinator: the reconcile queue is bound after the River client exists,
	// since the client's workers need the coordinator.
	queue := reconcile.NewQueue()
	coord := services.NewCoordinator(balanceRepo, ledgerRepo, appRepo, jobsRepo, logger)
	coord.Retry = services.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
	}
	coord.SubmitTimeout = cfg.SubmitTimeout
	coord.Tx = repository.NewTransactor(pool)
	coord.Events = publisher
	coord.Reconcile = queue

	workers := river.NewWorkers()
	reconcile.AddWorkers(workers, services.NewReconciler(coord), logger)

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: []*river.PeriodicJob{reconcile.PeriodicSweep(cfg.ReconcileInterval)},
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	queue.Bind(func(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error {
		_, err := riverClient.Insert(ctx, args, opts)
		return err
	})

	// HTTP
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)
	apiV1Router := router.New(
		auth.NewHandler(authSvc, logger),
		jobs.NewHandler(jobs.NewService(jobsRepo), validator, logger),
		&handlers.ApplicationHandler{
			Lifecycle: coord,
			Guard:     coord.Guard,
			Validator: validator,
			Logger:    logger,
		},
		dashboard.NewHandler(balanceRepo, ledgerRepo, validator, logger),
		authSvc,
	)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiV1Router)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		AllowCredentials: true,
	}).Handler(mux)

	metricsSrv := metrics.StartServer(cfg.MetricsPort, pool.Ping, logger)

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("River client failed to start", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("Starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Warn("River shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Metrics shutdown", "error", err)
	}
}
