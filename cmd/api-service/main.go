package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/quangdm/finsync-be/internal/api/handler"
	"github.com/quangdm/finsync-be/internal/api/router"
	"github.com/quangdm/finsync-be/internal/config"
	"github.com/quangdm/finsync-be/internal/store"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("starting API service",
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

	// The wake-up channel is optional: without it the worker still picks
	// jobs up on its poll interval.
	var notifier worker.WakeNotifier
	var rabbitClient *rabbitmq.Client
	if cfg.RabbitMQ.Host != "" {
		rabbitClient, err = rabbitmq.NewClient(rabbitConfig(&cfg.RabbitMQ), appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		notifier = rabbitClient
	} else {
		appLogger.Warn("RabbitMQ not configured, job pickup relies on worker polling only")
	}

	repos := store.New(dbClient, appLogger.Logger)
	enqueuer := worker.NewEnqueuer(appLogger.Logger, repos.Jobs, notifier)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:   appLogger.Logger,
		Jobs:     repos.Jobs,
		Enqueuer: enqueuer,
		Limits:   syncLimits(&cfg.Sync),
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed to start", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running", slog.String("address", addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown", slog.Any("error", err))
		return err
	}

	appLogger.Info("server shutdown complete")
	return nil
}

func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

func rabbitConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:          cfg.Host,
		Port:          cfg.Port,
		User:          cfg.User,
		Password:      cfg.Password,
		VHost:         cfg.VHost,
		ExchangeName:  cfg.Exchange,
		QueueName:     cfg.Queue,
		RoutingKey:    cfg.RoutingKey,
		RetryAttempts: cfg.RetryAttempts,
		RetryInterval: cfg.RetryInterval,
		Heartbeat:     cfg.Heartbeat,
	}
}

func syncLimits(cfg *config.SyncConfig) validate.Limits {
	limits := validate.DefaultLimits
	if cfg.MaxPayloadBytes > 0 {
		limits.MaxPayloadBytes = cfg.MaxPayloadBytes
	}
	if cfg.MaxItemsPerKind > 0 {
		limits.MaxItemsPerKind = cfg.MaxItemsPerKind
	}
	if cfg.MaxNameLength > 0 {
		limits.MaxNameLength = cfg.MaxNameLength
	}
	if cfg.MaxDescriptionLen > 0 {
		limits.MaxDescriptionLen = cfg.MaxDescriptionLen
	}
	return limits
}
