package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/samber/do"
	"github.com/gregolima/zeca/internal/commands"
	"github.com/gregolima/zeca/internal/config"
	"github.com/gregolima/zeca/internal/gpt"
	"github.com/gregolima/zeca/internal/incoming"
	"github.com/gregolima/zeca/internal/migrations"
	"github.com/gregolima/zeca/internal/queue"
	"github.com/gregolima/zeca/internal/repo"
	"github.com/gregolima/zeca/internal/schedule"
	"github.com/gregolima/zeca/internal/triggers"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Load .env if present; real environments set variables directly
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize slog logger with JSON handler for structured logging
	slogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Create watermill adapter for compatibility
	logger := watermill.NewSlogLogger(slogger)

	// Initialize dependency injection container
	injector := do.New()
	defer func() {
		if err := injector.Shutdown(); err != nil {
			logger.Error("Failed to shutdown DI container", err, nil)
		}
	}()

	// Setup all dependencies
	if err := setupDependencies(injector, cfg, logger); err != nil {
		log.Fatalf("Failed to setup dependencies: %v", err)
	}

	// Get required services from DI
	pool := do.MustInvoke[*pgxpool.Pool](injector)
	defer pool.Close()

	subscriber := do.MustInvoke[message.Subscriber](injector)
	incomingDispatcher := do.MustInvoke[*incoming.Dispatcher](injector)
	scheduleEngine := do.MustInvoke[*schedule.Engine](injector)
	cronRunner := do.MustInvoke[*cron.Cron](injector)

	// Initialize message router for the incoming pipeline
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		log.Fatalf("Failed to create router: %v", err)
	}
	router.AddMiddleware(middleware.Recoverer)

	router.AddNoPublisherHandler(
		"incoming_dispatcher",
		cfg.App.Queue.IncomingTopic,
		subscriber,
		incomingDispatcher.Handler(),
	)

	// Rebuild schedule registrations from the persisted rules before the
	// cron runner starts ticking
	if err := scheduleEngine.Start(); err != nil {
		log.Fatalf("Failed to start schedule engine: %v", err)
	}
	if err := scheduleEngine.Resync(ctx); err != nil {
		log.Fatalf("Failed to resync schedules: %v", err)
	}
	cronRunner.Start()

	// Start all services
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := router.Run(ctx); err != nil {
			logger.Error("Router stopped with error", err, nil)
		}
	}()

	logger.Info("Zeca started successfully", watermill.LogFields{
		"config_loaded":  true,
		"db_connected":   true,
		"incoming_topic": cfg.App.Queue.IncomingTopic,
		"send_topic":     cfg.App.Queue.SendTopic,
	})

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", watermill.LogFields{
			"signal": sig.String(),
		})
	case <-ctx.Done():
		logger.Info("Context cancelled", nil)
	}

	// Graceful shutdown
	logger.Info("Starting graceful shutdown", nil)

	cancel()
	cronCtx := cronRunner.Stop()

	// Wait for all goroutines and in-flight cron jobs with timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		<-cronCtx.Done()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Graceful shutdown completed", nil)
	case <-time.After(30 * time.Second):
		logger.Error("Shutdown timeout exceeded", nil, nil)
	}

	if err := router.Close(); err != nil {
		logger.Error("Failed to close router", err, nil)
	}

	logger.Info("Zeca stopped", nil)
}

// setupDependencies registers all dependencies in DI container
func setupDependencies(injector *do.Injector, cfg *config.Config, logger watermill.LoggerAdapter) error {
	// Register config
	do.ProvideValue(injector, cfg)

	// Register slog logger
	do.Provide(injector, func(i *do.Injector) (*slog.Logger, error) {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})), nil
	})

	// Register watermill logger adapter
	do.ProvideValue(injector, logger)

	// Register database pool
	do.Provide(injector, func(i *do.Injector) (*pgxpool.Pool, error) {
		config := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[watermill.LoggerAdapter](i)

		// Parse connection config for migrations
		pgxConfig, err := pgx.ParseConfig(config.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to parse database config: %w", err)
		}

		// Create database/sql connection for migrations
		sqlDB := stdlib.OpenDB(*pgxConfig)

		// Run migrations
		if err := migrations.Run(context.Background(), sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}

		logger.Info("Database migrations completed successfully", nil)

		if err := sqlDB.Close(); err != nil {
			logger.Error("Failed to close sql connection after migrations", err, nil)
		}

		// Create pgxpool connection for application use
		pool, err := pgxpool.New(context.Background(), config.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		if err := pool.Ping(context.Background()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}

		logger.Info("Connected to database", nil)
		return pool, nil
	})

	// Register repository
	do.Provide(injector, func(i *do.Injector) (*repo.Repository, error) {
		pool := do.MustInvoke[*pgxpool.Pool](i)
		return repo.New(pool), nil
	})

	// Register pub/sub - both publisher and subscriber sides
	do.Provide(injector, func(i *do.Injector) (*gochannel.GoChannel, error) {
		logger := do.MustInvoke[watermill.LoggerAdapter](i)
		return gochannel.NewGoChannel(gochannel.Config{}, logger), nil
	})

	do.Provide(injector, func(i *do.Injector) (message.Publisher, error) {
		pubSub := do.MustInvoke[*gochannel.GoChannel](i)
		return pubSub, nil
	})

	do.Provide(injector, func(i *do.Injector) (message.Subscriber, error) {
		pubSub := do.MustInvoke[*gochannel.GoChannel](i)
		return pubSub, nil
	})

	// Register GPT client
	do.Provide(injector, func(i *do.Injector) (*gpt.Client, error) {
		config := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		return gpt.New(config.OpenAIAPIKey, config, logger), nil
	})

	// Register send dispatcher
	do.Provide(injector, func(i *do.Injector) (*queue.Dispatcher, error) {
		publisher := do.MustInvoke[message.Publisher](i)
		config := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		return queue.New(publisher, config, logger), nil
	})

	// Register trigger engine
	do.Provide(injector, func(i *do.Injector) (*triggers.Engine, error) {
		repository := do.MustInvoke[*repo.Repository](i)
		dispatcher := do.MustInvoke[*queue.Dispatcher](i)
		config := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		return triggers.NewEngine(repository, dispatcher, config, logger), nil
	})

	// Register command processor
	do.Provide(injector, func(i *do.Injector) (*commands.Processor, error) {
		repository := do.MustInvoke[*repo.Repository](i)
		dispatcher := do.MustInvoke[*queue.Dispatcher](i)
		gptClient := do.MustInvoke[*gpt.Client](i)
		config := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		return commands.NewProcessor(dispatcher, gptClient, repository, config, logger), nil
	})

	// Register incoming dispatcher with its stages in evaluation order
	do.Provide(injector, func(i *do.Injector) (*incoming.Dispatcher, error) {
		triggerEngine := do.MustInvoke[*triggers.Engine](i)
		processor := do.MustInvoke[*commands.Processor](i)
		logger := do.MustInvoke[*slog.Logger](i)

		d := incoming.New(logger)
		d.AddStage("triggers", triggerEngine)
		d.AddStage("commands", processor)
		return d, nil
	})

	// Register cron runner
	do.Provide(injector, func(i *do.Injector) (*cron.Cron, error) {
		config := do.MustInvoke[*config.Config](i)
		return cron.New(cron.WithLocation(config.Location)), nil
	})

	// Register schedule engine
	do.Provide(injector, func(i *do.Injector) (*schedule.Engine, error) {
		repository := do.MustInvoke[*repo.Repository](i)
		dispatcher := do.MustInvoke[*queue.Dispatcher](i)
		gptClient := do.MustInvoke[*gpt.Client](i)
		cronRunner := do.MustInvoke[*cron.Cron](i)
		config := do.MustInvoke[*config.Config](i)
		logger := do.MustInvoke[*slog.Logger](i)
		return schedule.NewEngine(repository, dispatcher, gptClient, cronRunner, config, logger), nil
	})

	return nil
}
