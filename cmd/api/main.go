package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/booking-engine/internal/config"
	"github.com/jwalitptl/booking-engine/internal/handler/appointment"
	audithandler "github.com/jwalitptl/booking-engine/internal/handler/audit"
	"github.com/jwalitptl/booking-engine/internal/handler/health"
	slothandler "github.com/jwalitptl/booking-engine/internal/handler/slot"
	templatehandler "github.com/jwalitptl/booking-engine/internal/handler/template"
	tzhandler "github.com/jwalitptl/booking-engine/internal/handler/timezone"
	"github.com/jwalitptl/booking-engine/internal/lock"
	"github.com/jwalitptl/booking-engine/internal/middleware"
	"github.com/jwalitptl/booking-engine/internal/repository"
	"github.com/jwalitptl/booking-engine/internal/repository/memory"
	"github.com/jwalitptl/booking-engine/internal/repository/postgres"
	"github.com/jwalitptl/booking-engine/internal/router"
	"github.com/jwalitptl/booking-engine/internal/service/audit"
	"github.com/jwalitptl/booking-engine/internal/service/authz"
	"github.com/jwalitptl/booking-engine/internal/service/booking"
	"github.com/jwalitptl/booking-engine/internal/service/notification"
	"github.com/jwalitptl/booking-engine/internal/service/slot"
	"github.com/jwalitptl/booking-engine/internal/service/template"
	"github.com/jwalitptl/booking-engine/pkg/auth"
	"github.com/jwalitptl/booking-engine/pkg/logger"
	"github.com/jwalitptl/booking-engine/pkg/messaging"
	"github.com/jwalitptl/booking-engine/pkg/messaging/kafka"
	"github.com/jwalitptl/booking-engine/pkg/messaging/redis"
	"github.com/jwalitptl/booking-engine/pkg/metrics"
	"github.com/jwalitptl/booking-engine/pkg/ratelimit"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Msg("failed to read .env")
	}

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLog := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Log.Level),
		TimeFormat: time.RFC3339,
		JSON:       cfg.Log.JSON,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics("booking", reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	checks := map[string]health.Checker{}

	// Initialize store
	var store repository.Store
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgres.NewDB(cfg.Database)
		if err != nil {
			appLog.Fatal(err, "failed to connect to database")
		}
		defer db.Close()
		if err := postgres.MigrateUp(cfg.Database.URL()); err != nil {
			appLog.Fatal(err, "failed to run migrations")
		}
		store = postgres.NewStore(db)
		checks["database"] = db.PingContext
	default:
		appLog.Warn("using the in-memory store; data is lost on restart")
		store = memory.New()
	}

	// Redis backs the distributed lock and the redis broker
	var redisClient *goredis.Client
	needsBroker := cfg.Notifications.Sink == "broker"
	if cfg.Lock.Backend == "redis" || (needsBroker && cfg.Messaging.Backend == "redis") {
		redisClient, err = redis.NewClient(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			appLog.Fatal(err, "failed to connect to Redis")
		}
		defer redisClient.Close()
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var locker lock.Locker
	if cfg.Lock.Backend == "redis" {
		locker = lock.NewRedisLocker(redisClient, lock.RedisConfig{
			Timeout:       cfg.Lock.Timeout,
			TTL:           cfg.Lock.TTL,
			RetryInterval: cfg.Lock.RetryInterval,
		}, appLog)
	} else {
		locker = lock.NewLocalLocker(cfg.Lock.Timeout)
	}
	locker = lock.Instrumented(locker, m)

	// Notifications
	sink, err := newNotificationSink(cfg, store, redisClient, appLog)
	if err != nil {
		appLog.Fatal(err, "failed to set up notifications")
	}
	dispatcher := notification.NewDispatcher(sink, cfg.Notifications.Sink, notification.DispatcherConfig{
		Workers:   cfg.Notifications.Workers,
		QueueSize: cfg.Notifications.QueueSize,
	}, appLog, m)

	// Initialize services
	auditor := audit.NewService(store.Audit())
	templateSvc := template.NewService(store, auditor, cfg.Timezone.Default, appLog)
	slotSvc := slot.NewService(store, locker, auditor, m, appLog, slot.Config{
		MaxSpanDays:     cfg.Generation.MaxSpanDays,
		DefaultTimezone: cfg.Timezone.Default,
	})
	bookingSvc := booking.NewService(store, locker, auditor, dispatcher, m, appLog)

	tokens, err := auth.NewJWTService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpiryHours)*time.Hour)
	if err != nil {
		appLog.Fatal(err, "failed to configure tokens")
	}

	limit := ratelimit.Config{RequestsPerSecond: cfg.RateLimit.RequestsPerSecond, Burst: cfg.RateLimit.Burst, TTL: cfg.RateLimit.TTL}
	if !cfg.RateLimit.Enabled {
		limit = ratelimit.Config{RequestsPerSecond: 1e9, Burst: 1 << 30, TTL: cfg.RateLimit.TTL}
	}

	mode := gin.DebugMode
	if cfg.Env == "production" {
		mode = gin.ReleaseMode
	}

	// Setup router
	r := router.NewRouter(
		middleware.NewAuthMiddleware(tokens, authz.DefaultPolicy()),
		ratelimit.NewKeyedLimiter(limit),
		m,
		appLog,
		router.Handlers{
			Health:      health.NewHandler(reg, checks),
			Template:    templatehandler.NewHandler(templateSvc),
			Slot:        slothandler.NewHandler(slotSvc),
			Appointment: appointment.NewHandler(bookingSvc),
			Timezone:    tzhandler.NewHandler(),
			Audit:       audithandler.NewHandler(auditor),
		},
		router.RouterConfig{
			RequestTimeout: cfg.Server.RequestTimeout,
			Mode:           mode,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		appLog.Info("starting server", "addr", srv.Addr, "store", cfg.Database.Driver, "lock", cfg.Lock.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Fatal(err, "failed to start server")
		}
	}()

	<-ctx.Done()
	appLog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error(err, "server forced to shutdown")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		appLog.Error(err, "notifications not drained")
	}

	appLog.Info("server exited properly")
}

func newNotificationSink(cfg *config.Config, store repository.Store, redisClient *goredis.Client, log *logger.Logger) (notification.Notifier, error) {
	switch cfg.Notifications.Sink {
	case "broker":
		var broker messaging.Broker
		if cfg.Messaging.Backend == "kafka" {
			kb, err := kafka.NewBroker(kafka.Config{Brokers: cfg.Messaging.KafkaBrokers}, log)
			if err != nil {
				return nil, err
			}
			broker = kb
		} else {
			broker = redis.NewRedisBroker(redisClient, log)
		}
		return notification.NewBrokerNotifier(broker, cfg.Messaging.Topic), nil
	case "email":
		if cfg.SMTP.Host == "" {
			return nil, errors.New("smtp.host is required for the email sink")
		}
		sender := notification.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password)
		resolve := func(_ context.Context, userID uuid.UUID) (string, error) {
			return fmt.Sprintf(cfg.SMTP.RecipientFormat, userID), nil
		}
		return notification.NewEmailNotifier(sender, cfg.SMTP.From, resolve), nil
	case "outbox", "":
		return notification.NewOutboxNotifier(store.Outbox()), nil
	default:
		return nil, fmt.Errorf("unknown notification sink %q", cfg.Notifications.Sink)
	}
}
