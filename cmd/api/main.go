package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/mail-courier/internal/config"
	"github.com/kursadbilgin/mail-courier/internal/handler"
	"github.com/kursadbilgin/mail-courier/internal/infra/postgresql"
	"github.com/kursadbilgin/mail-courier/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/mail-courier/internal/infra/redis"
	"github.com/kursadbilgin/mail-courier/internal/observability"
	"github.com/kursadbilgin/mail-courier/internal/provider"
	"github.com/kursadbilgin/mail-courier/internal/queue"
	"github.com/kursadbilgin/mail-courier/internal/repository"
	"github.com/kursadbilgin/mail-courier/internal/service"
	"github.com/kursadbilgin/mail-courier/internal/transport"
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

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
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
	publisher := queue.NewRabbitMQPublisher(rabbit)
	defer publisher.Close()

	metrics := observability.NewMetrics()

	notifications := repository.NewGormNotificationRepo(db)
	attempts := repository.NewGormAttemptRepo(db)

	router, err := provider.NewRouterFromConfig(cfg, logger, metrics)
	if err != nil {
		logger.Fatal("provider setup failed", zap.Error(err))
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.RateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
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
		logger.Fatal("orchestrator initialization failed", zap.Error(err))
	}
	orchestrator.SetMetrics(metrics)

	resender, err := service.NewResendService(notifications, publisher, logger)
	if err != nil {
		logger.Fatal("resend service initialization failed", zap.Error(err))
	}
	resender.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb)
	if err := handler.RegisterDeliveryRoutes(app, orchestrator, resender, notifications, attempts); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("mail-courier api started", zap.Int("port", cfg.APIPort))
		return app.Listen(fmt.Sprintf(":%d", cfg.APIPort))
	})

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
		logger.Info("shutting down")
		_ = metricsServer.Shutdown(context.Background())
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil {
		logger.Error("api stopped with error", zap.Error(err))
	}
}

func metricsMux(h http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	return mux
}
