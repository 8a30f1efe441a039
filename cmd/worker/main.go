package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kursadbilgin/mail-courier/internal/config"
	"github.com/kursadbilgin/mail-courier/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/mail-courier/internal/infra/redis"
	"github.com/kursadbilgin/mail-courier/internal/observability"
	"github.com/kursadbilgin/mail-courier/internal/provider"
	"github.com/kursadbilgin/mail-courier/internal/queue"
	"github.com/kursadbilgin/mail-courier/internal/repository"
	"github.com/kursadbilgin/mail-courier/internal/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	consumer := queue.NewRabbitMQConsumer(rabbit, cfg.WorkerConcurrency, logger)
	defer consumer.Close()

	publisherConn, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq publisher initialization failed", zap.Error(err))
	}
	publisher := queue.NewRabbitMQPublisher(publisherConn)
	defer publisher.Close()

	metrics := observability.NewMetrics()

	notifications := repository.NewGormNotificationRepo(db)
	attempts := repository.NewGormAttemptRepo(db)

	processor, err := buildProcessor(cfg, notifications, attempts, rdb, logger, metrics)
	if err != nil {
		logger.Fatal("processor setup failed", zap.Error(err))
	}

	worker, err := service.NewWorkerService(
		notifications,
		consumer,
		processor,
		cfg.WorkerConcurrency,
		cfg.MaxDequeueCount,
		logger,
	)
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	retryScanner, err := service.NewRetryScanner(notifications, publisher, 0, 0, logger)
	if err != nil {
		logger.Fatal("retry scanner initialization failed", zap.Error(err))
	}

	scheduler, err := service.NewScheduler(notifications, publisher, 0, 0, logger)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return worker.Start(ctx) })
	g.Go(func() error { return retryScanner.Start(ctx) })
	g.Go(func() error { return scheduler.Start(ctx) })

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux(metrics.Handler()),
	}
	g.Go(func() error {
		logger.Info("metrics endpoint started", zap.Int("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return metricsServer.Shutdown(context.Background())
	})

	logger.Info("mail-courier worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Bool("remoteProcessor", strings.TrimSpace(cfg.ProcessorURL) != ""),
	)

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}
}

func metricsMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	return mux
}

// buildProcessor selects between delegating jobs to an out-of-process
// delivery API and running the orchestrator in-process.
func buildProcessor(
	cfg *config.Config,
	notifications repository.NotificationRepository,
	attempts repository.AttemptRepository,
	rdb *redis.Client,
	logger *zap.Logger,
	metrics *observability.Metrics,
) (service.Processor, error) {
	if strings.TrimSpace(cfg.ProcessorURL) != "" {
		return service.NewRemoteProcessor(cfg.ProcessorURL)
	}

	router, err := provider.NewRouterFromConfig(cfg, logger, metrics)
	if err != nil {
		return nil, err
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		return nil, err
	}

	orchestrator, err := service.NewOrchestrator(
		notifications,
		attempts,
		router,
		rateLimiter,
		cfg.MaxDeliveryRetries,
		logger,
	)
	if err != nil {
		return nil, err
	}
	orchestrator.SetMetrics(metrics)

	return orchestrator, nil
}
