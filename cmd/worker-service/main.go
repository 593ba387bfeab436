package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/quangdm/finsync-be/internal/config"
	"github.com/quangdm/finsync-be/internal/store"
	"github.com/quangdm/finsync-be/internal/sync/engine"
	"github.com/quangdm/finsync-be/internal/sync/resilience"
	"github.com/quangdm/finsync-be/internal/sync/validate"
	"github.com/quangdm/finsync-be/internal/worker"
	"github.com/quangdm/finsync-be/shared/logger"
	"github.com/quangdm/finsync-be/shared/postgresql"
	"github.com/quangdm/finsync-be/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wake <-chan struct{}
	if cfg.RabbitMQ.Host != "" {
		rabbitClient, err := rabbitmq.NewClient(&rabbitmq.Config{
			Host:          cfg.RabbitMQ.Host,
			Port:          cfg.RabbitMQ.Port,
			User:          cfg.RabbitMQ.User,
			Password:      cfg.RabbitMQ.Password,
			VHost:         cfg.RabbitMQ.VHost,
			ExchangeName:  cfg.RabbitMQ.Exchange,
			QueueName:     cfg.RabbitMQ.Queue,
			RoutingKey:    cfg.RabbitMQ.RoutingKey,
			RetryAttempts: cfg.RabbitMQ.RetryAttempts,
			RetryInterval: cfg.RabbitMQ.RetryInterval,
			Heartbeat:     cfg.RabbitMQ.Heartbeat,
		}, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		consumerTag := fmt.Sprintf("sync-worker-%s", uuid.New().String()[:8])
		deliveries, err := rabbitClient.Consume(consumerTag)
		if err != nil {
			return fmt.Errorf("failed to start wake-up consumer: %w", err)
		}
		wake = worker.WakeListener(ctx, appLogger.Logger, deliveries)
	} else {
		appLogger.Warn("RabbitMQ not configured, relying on poll interval only")
	}

	repos := store.New(dbClient, appLogger.Logger)

	syncEngine := engine.New(&engine.Config{
		Logger:       appLogger.Logger,
		Categories:   repos.Categories,
		Transactions: repos.Transactions,
		Retry: resilience.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			BaseDelay:   cfg.Retry.BaseDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
			Multiplier:  cfg.Retry.Multiplier,
		},
		Limits: validate.Limits{
			MaxPayloadBytes:   cfg.Sync.MaxPayloadBytes,
			MaxItemsPerKind:   cfg.Sync.MaxItemsPerKind,
			MaxNameLength:     cfg.Sync.MaxNameLength,
			MaxDescriptionLen: cfg.Sync.MaxDescriptionLen,
		},
	})

	w := worker.New(&worker.Config{
		Logger:        appLogger.Logger,
		Jobs:          repos.Jobs,
		Engine:        syncEngine,
		PollInterval:  cfg.Worker.PollInterval,
		JobTimeout:    cfg.Worker.JobTimeout,
		Retention:     cfg.Worker.Retention,
		PurgeInterval: cfg.Worker.PurgeInterval,
		Wake:          wake,
	})

	errChan := make(chan error, 1)
	go func() {
		if err := w.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("worker failed: %w", err)
	case sig := <-quit:
		appLogger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	cancel()

	shutdownDone := make(chan struct{})
	go func() {
		w.Stop()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		appLogger.Info("worker shutdown complete")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("worker shutdown timed out")
	}

	return nil
}
