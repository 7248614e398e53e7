package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/booking-engine/internal/config"
	"github.com/jwalitptl/booking-engine/internal/handler/health"
	"github.com/jwalitptl/booking-engine/internal/repository/postgres"
	"github.com/jwalitptl/booking-engine/pkg/logger"
	"github.com/jwalitptl/booking-engine/pkg/messaging"
	"github.com/jwalitptl/booking-engine/pkg/messaging/kafka"
	"github.com/jwalitptl/booking-engine/pkg/messaging/redis"
	"github.com/jwalitptl/booking-engine/pkg/metrics"
	"github.com/jwalitptl/booking-engine/pkg/worker"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatal().Str("driver", cfg.Database.Driver).Msg("The outbox worker needs the postgres store")
	}

	hostname, _ := os.Hostname()
	appLog := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.JSON,
	}).WithFields(map[string]interface{}{"worker_id": fmt.Sprintf("worker-%s-%d", hostname, os.Getpid())})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("booking_worker", reg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLog.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()
	outboxRepo := postgres.NewStore(db).Outbox()

	checks := map[string]health.Checker{"database": db.PingContext}

	// Initialize broker
	var broker messaging.Broker
	switch cfg.Messaging.Backend {
	case "kafka":
		broker, err = kafka.NewBroker(kafka.Config{Brokers: cfg.Messaging.KafkaBrokers}, appLog)
		if err != nil {
			appLog.Fatal(err, "Failed to create Kafka broker")
		}
	default:
		client, err := redis.NewClient(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			appLog.Fatal(err, "Failed to connect to Redis")
		}
		checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		broker = redis.NewRedisBroker(client, appLog)
	}
	defer broker.Close()

	processor, err := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		worker.OutboxProcessorConfig{
			Topic:         cfg.Messaging.Topic,
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
		},
		appLog,
		m,
	)
	if err != nil {
		appLog.Fatal(err, "Failed to create outbox processor")
	}
	cleanup := worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.RetentionPeriod, cfg.Outbox.CleanupInterval, appLog)

	// Setup health check endpoints
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	health.NewHandler(reg, checks).RegisterRoutes(engine)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Outbox.HealthPort),
		Handler: engine,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error(err, "Health check server failed")
			cancel()
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		cleanup.Start(ctx)
	}()

	<-ctx.Done()
	appLog.Info("Shutting down...")
	wg.Wait()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(err, "Health server forced to shutdown")
	}
}
