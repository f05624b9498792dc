package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crabzie/task-console/config/logger"
	redisStorage "github.com/crabzie/task-console/config/storage/redis"
	config "github.com/crabzie/task-console/config/utils"
	"github.com/crabzie/task-console/internal/adapter/handler/rest"
	"github.com/crabzie/task-console/internal/adapter/latency"
	"github.com/crabzie/task-console/internal/adapter/queue/rabbitmq"
	"github.com/crabzie/task-console/internal/adapter/runner"
	"github.com/crabzie/task-console/internal/adapter/storage/memory"
	redisEngine "github.com/crabzie/task-console/internal/adapter/storage/redis"
	"github.com/crabzie/task-console/internal/core/port"
	"github.com/crabzie/task-console/internal/core/service"
	"go.uber.org/zap"
)

// _readinessDrainDelay is time to sleep while context shutdown message propagate
const _readinessDrainDelay = 1 * time.Second

func main() {
	rootCtx, rootCtxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer rootCtxCancel()

	// Init config
	appConfig := config.New()
	baseLogger := logger.Build(appConfig.Logger)
	zap.L().Debug("Logger Builded successfully")

	zap.L().Info("Starting the application", zap.String("app", appConfig.App.Name), zap.String("env", appConfig.App.Env), zap.String("owner", appConfig.App.Owner))

	if err := run(rootCtx, appConfig, baseLogger); err != nil {
		zap.L().Error("Application stopped with error", zap.Error(err))
		_ = baseLogger.Sync()
		os.Exit(1)
	}

	zap.L().Info("Graceful shutdown complete.")
	_ = baseLogger.Sync()
}

func run(ctx context.Context, appConfig *config.AppConfig, baseLogger *zap.Logger) error {
	// Init task store
	repo := memory.NewTaskRepository(baseLogger.Named("Repository"))
	taskRunner := runner.NewSimulatedRunner(appConfig.Store.ExecutionDuration, baseLogger.Named("Runner"))
	if appConfig.Store.Seed {
		if err := service.Seed(ctx, repo, taskRunner, time.Now()); err != nil {
			return fmt.Errorf("seed task store: %w", err)
		}
		zap.L().Info("Seeded the task store")
	}

	delayer := latency.None()
	if appConfig.Store.Latency.Enabled {
		delayer = latency.New(appConfig.Store.Latency.Operations)
		zap.L().Info("Simulated latency enabled", zap.Any("operations", appConfig.Store.Latency.Operations))
	}

	// Init event publisher
	var publisher port.EventPublisher
	if appConfig.Events.Enabled {
		pub, err := rabbitmq.NewEventPublisher(ctx, appConfig.Events.URL, appConfig.Events.Exchange, baseLogger.Named("Events"))
		if err != nil {
			return fmt.Errorf("init event publisher: %w", err)
		}
		defer pub.Close()
		publisher = pub
		zap.L().Info("Successfully connected to the event broker", zap.String("exchange", appConfig.Events.Exchange))
	}

	store := service.NewTaskService(repo, taskRunner, delayer, publisher, baseLogger.Named("Store"))

	// Init cache service
	engine, err := newCacheEngine(ctx, appConfig, baseLogger.Named("Cache"))
	if err != nil {
		return fmt.Errorf("init cache engine: %w", err)
	}
	defer engine.Close(context.Background())

	query := service.NewQueryService(store, engine, service.QueryConfig{
		TTL:          appConfig.Cache.TTL,
		StaleAfter:   appConfig.Cache.StaleAfter,
		FetchTimeout: appConfig.Cache.FetchTimeout,
		MaxEntries:   appConfig.Cache.MaxItems,
	}, baseLogger.Named("Query"))

	// Init http server
	httpLogger := baseLogger.Named("HTTP")
	server := rest.NewServer(appConfig.HTTP, rest.NewRouter(query, httpLogger), httpLogger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	// Wait for ctx cancelation
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// Wait for signal propagation
	time.Sleep(_readinessDrainDelay)
	zap.L().Info("Readiness check propagated, now waiting for ongoing requests to finish")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return <-errCh
}

func newCacheEngine(ctx context.Context, appConfig *config.AppConfig, log *zap.Logger) (port.CacheEngine, error) {
	switch appConfig.Cache.Engine {
	case "redis":
		r, err := redisStorage.New(ctx, appConfig.Redis)
		if err != nil {
			return nil, err
		}
		zap.L().Info("Successfully connected to the cache server", zap.String("address", appConfig.Redis.Addr))
		return redisEngine.NewCacheEngine(r.Client, appConfig.Cache.KeyPrefix, log), nil
	case "memory", "":
		return memory.NewCacheEngine(memory.EngineConfig{
			MaxItems:        appConfig.Cache.MaxItems,
			CleanupInterval: appConfig.Cache.CleanupInterval,
		}), nil
	default:
		return nil, fmt.Errorf("unknown cache engine %q", appConfig.Cache.Engine)
	}
}
