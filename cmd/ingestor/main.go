package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"feedwatch/internal/activitylog"
	"feedwatch/internal/circuitbreaker"
	"feedwatch/internal/config"
	"feedwatch/internal/language"
	"feedwatch/internal/metrics"
	"feedwatch/internal/publisher"
	"feedwatch/internal/scheduler"
	"feedwatch/internal/server"
	"feedwatch/internal/service"
	"feedwatch/internal/source"
	"feedwatch/internal/source/reddit"
	"feedwatch/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("ingestor stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := postgres.Migrate(cfg.Database.DSN(), logger); err != nil {
		return err
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return err
	}
	defer db.Close()
	logger.Info("connected to database")

	activity, err := activitylog.Open(cfg.ActivityLog.GeneralPath, cfg.ActivityLog.LanguagePath)
	if err != nil {
		logger.Error("failed to open activity logs", "error", err)
		return err
	}
	defer activity.Close()

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			return err
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	}

	feed, err := reddit.New(reddit.Config{
		ClientID:          cfg.Reddit.ClientID,
		ClientSecret:      cfg.Reddit.ClientSecret,
		Username:          cfg.Reddit.Username,
		Password:          cfg.Reddit.Password,
		UserAgent:         cfg.Reddit.UserAgent,
		PageSize:          cfg.Reddit.PageSize,
		Timeout:           cfg.Reddit.Timeout,
		RequestsPerMinute: cfg.Reddit.RequestsPerMinute,
		MaxAttempts:       cfg.Reddit.Retry.MaxAttempts,
		InitialBackoff:    cfg.Reddit.Retry.InitialBackoff,
		MaxBackoff:        cfg.Reddit.Retry.MaxBackoff,
	}, logger)
	if err != nil {
		return err
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	watermarkStore := postgres.NewWatermarkStore(db)

	ingestService := service.NewIngestService(service.Deps{
		Feed: feed,
		Classifier: language.New(language.Config{
			LowAccuracy:         cfg.Classifier.LowAccuracy,
			MinRelativeDistance: cfg.Classifier.MinRelativeDistance,
		}, logger),
		Watermarks: watermarkStore,
		Records:    postgres.NewRecordStore(db),
		TxManager:  postgres.NewTransactionManager(db),
		Activity:   activity,
		Publisher:  pub,
		Metrics:    m,
		Logger:     logger,
	}, cfg.Ingest)

	registry := source.NewRegistry(cfg.Sources)

	sched := scheduler.NewScheduler(ingestService, registry, scheduler.Config{
		IdleInterval: cfg.Scheduler.IdleInterval,
		Concurrency:  cfg.Scheduler.Concurrency,
		PassTimeout:  cfg.Scheduler.PassTimeout,
		Breaker: circuitbreaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
			MaxOpenTimeout:   cfg.Breaker.MaxOpenTimeout,
		},
	}, m, logger)

	ops := server.New(cfg.HTTP.Addr, server.Deps{
		DB:         db,
		Watermarks: watermarkStore,
		Breakers:   sched,
		Metrics:    promhttp.Handler(),
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting ingestor",
		"sources", registry.Sources(),
		"target_languages", cfg.Ingest.TargetLanguages,
		"batch_size", cfg.Ingest.BatchSize,
		"publisher", pub != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ops.Run(gctx)
	})
	g.Go(func() error {
		err := sched.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	err = g.Wait()
	if err == nil {
		logger.Info("shutdown complete")
	}
	return err
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
