package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/quillsign/quillsign/internal/bootstrap"
	"github.com/quillsign/quillsign/internal/config"
	"github.com/quillsign/quillsign/internal/infra/postgresql"
	"github.com/quillsign/quillsign/internal/infra/postgresql/migrations"
	infraredis "github.com/quillsign/quillsign/internal/infra/redis"
	"github.com/quillsign/quillsign/internal/notifier"
	"github.com/quillsign/quillsign/internal/observability"
	"github.com/quillsign/quillsign/internal/queue"
	"github.com/quillsign/quillsign/internal/repository"
	"github.com/quillsign/quillsign/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger("worker", cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()

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

	mq, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer mq.Close()

	backend, err := bootstrap.StorageBackend(ctx, cfg, rdb, metrics, logger)
	if err != nil {
		logger.Fatal("storage backend initialization failed", zap.Error(err))
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.NotifyRatePerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	mailer, err := notifier.NewMailerProvider(cfg.MailerURL, cfg.MailerAPIKey)
	if err != nil {
		logger.Fatal("mailer initialization failed", zap.Error(err))
	}

	batchRepo := repository.NewGormBatchRepo(db)

	coordinator, err := service.NewCoordinator(
		batchRepo,
		repository.NewGormItemRepo(db),
		repository.NewGormDocumentRepo(db),
		backend,
		mailer,
		rateLimiter,
		service.CoordinatorConfig{
			Workers:        cfg.DispatchWorkers,
			SigningBaseURL: cfg.SigningBaseURL,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("coordinator initialization failed", zap.Error(err))
	}
	coordinator.SetMetrics(metrics)

	consumer := queue.NewRabbitMQConsumer(mq, cfg.WorkerConcurrency, logger)

	worker, err := service.NewWorkerService(coordinator, consumer, cfg.WorkerConcurrency, logger)
	if err != nil {
		logger.Fatal("worker initialization failed", zap.Error(err))
	}

	scanner, err := service.NewStalledBatchScanner(
		batchRepo,
		queue.NewRabbitMQPublisher(mq),
		time.Duration(cfg.SweepIntervalSec)*time.Second,
		time.Duration(cfg.SweepStallAgeSec)*time.Second,
		logger,
	)
	if err != nil {
		logger.Fatal("stalled batch scanner initialization failed", zap.Error(err))
	}
	go func() {
		if err := scanner.Start(ctx); err != nil && ctx.Err() == nil {
			logger.Error("stalled batch scanner stopped with error", zap.Error(err))
		}
	}()

	metricsServer := bootstrap.MetricsServer(cfg.MetricsPort, metrics)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("quillsign worker started",
		zap.Int("concurrency", cfg.WorkerConcurrency),
		zap.Int("dispatchWorkers", cfg.DispatchWorkers),
	)

	if err := worker.Start(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped with error", zap.Error(err))
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}
}
