package main

import (
	"context"
	"database/sql"
	"fmt"
	"ms-booking/internal/analytics"
	"ms-booking/internal/auth"
	"ms-booking/internal/billing"
	"ms-booking/internal/booking"
	"ms-booking/internal/booking/booking_api"
	"ms-booking/internal/booking/db"
	"ms-booking/internal/booking/qr"
	bookingredis "ms-booking/internal/booking/redis"
	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/kafka"
	"ms-booking/internal/lifecycle"
	"ms-booking/internal/logger"
	"ms-booking/internal/metrics"
	"ms-booking/internal/middleware"
	"ms-booking/internal/models"
	"ms-booking/internal/notify"
	"ms-booking/internal/pricing"
	"ms-booking/internal/sse"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.PingContext(ctx)
		if err == nil {
			break
		}

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}

	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	logger.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.Redis.Addr,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}

	logger.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, redisClient.Options().DB))
	return bunDB, redisClient
}

func buildVerifier(ctx context.Context, cfg config.AuthConfig, logger *logger.Logger) auth.Verifier {
	var chain auth.Chain
	if cfg.JWTSecret != "" {
		chain = append(chain, auth.NewHS256Verifier(cfg.JWTSecret))
		logger.Info("AUTH", "HS256 token verification enabled")
	}
	if cfg.OIDCIssuer != "" {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClient)
		if err != nil {
			logger.Fatal("AUTH", fmt.Sprintf("Failed to initialize OIDC provider %s: %v", cfg.OIDCIssuer, err))
		}
		chain = append(chain, verifier)
		logger.Info("AUTH", fmt.Sprintf("OIDC token verification enabled for %s", cfg.OIDCIssuer))
	}
	if len(chain) == 0 {
		logger.Fatal("CONFIG", "JWT_SECRET or OIDC_ISSUER must be set")
	}
	return chain
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println(".env file not found, using environment variables")
	}
	cfg := config.Load()

	logger := logger.NewLoggerWithDir(cfg.Logging.Dir)
	defer logger.Close()

	logger.Info("APP", "Starting Booking Service initialization")

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	logger.Info("APP", "Verifying database connections")
	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	if cfg.Database.AutoMigrate {
		opts := migrations.DefaultOptions()
		opts.MigrationsDir = cfg.Database.MigrationsDir
		opts.SeedData = true
		runner := migrations.NewRunner(bunDB.DB, opts, logger)
		if err := runner.RunMigrations(); err != nil {
			logger.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
		runner.Close()
	}

	m := metrics.New()
	clock := lifecycle.SystemClock{}
	emitter := sse.NewNotificationEmitter()
	store := &db.DB{Bun: bunDB}

	// Without Kafka the dispatcher delivers straight to this instance's SSE clients.
	var publisher notify.Publisher
	if cfg.Kafka.Enabled {
		topics := kafka.NotificationTopics(cfg.Kafka.TopicPrefix)
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, topics, logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		if err := kafka.VerifyTopics(ctx, cfg.Kafka.Brokers, topics, logger); err != nil {
			logger.Warn("KAFKA", err.Error())
		}

		producer := kafka.NewProducer(cfg.Kafka.Brokers, logger)
		defer producer.Close()
		publisher = producer

		// Every instance consumes every notification for its own SSE clients.
		instance, _ := os.Hostname()
		deduper := notify.NewDeduper(redisClient, cfg.Redis.DedupeTTL)
		deduper.Scope = instance
		relay := notify.NewRelay(deduper, emitter, logger)

		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, topics, cfg.Kafka.GroupID+"-"+instance, logger)
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx, relay.Handle); err != nil {
				logger.Error("KAFKA", fmt.Sprintf("Notification consumer stopped: %v", err))
			}
		}()
		logger.Info("KAFKA", fmt.Sprintf("Notification relay consuming %d topics", len(topics)))
	}

	dispatcher := notify.NewDispatcher(emitter, publisher, cfg.Kafka.TopicPrefix, clock, logger)
	dispatcher.OnDispatch(func(t models.NotificationType, err error) {
		m.RecordNotification(string(t), err)
	})

	engine := lifecycle.NewEngine(lifecycle.Policy{
		MinEventDuration: cfg.Lifecycle.MinEventDuration,
		StartGrace:       cfg.Lifecycle.StartGrace,
		Location:         cfg.Lifecycle.Location(),
	})

	service := booking.NewService(
		store,
		bookingredis.NewRedis(redisClient, cfg.Redis.LockTTL, logger),
		engine,
		pricing.NewEstimator(store, engine, cfg.Pricing.DefaultHourlyRate, logger),
		dispatcher,
		clock,
		logger,
	)
	service.Metrics = m
	service.Analytics = analytics.NewService(analytics.NewDB(bunDB), clock.Now)

	if cfg.Billing.StripeSecretKey != "" {
		gateway, err := billing.NewStripeGateway(cfg.Billing.StripeSecretKey, logger)
		if err != nil {
			logger.Fatal("BILLING", err.Error())
		}
		service.Charger = billing.NewCharger(gateway, cfg.Billing.PenaltyCurrency, logger)
		logger.Info("BILLING", "Stripe penalty charging enabled")
	}

	if cfg.QR.SecretKey == "" {
		logger.Warn("CONFIG", "QR_SECRET_KEY not set, confirmation codes use an empty key")
	}
	handler := booking_api.NewHandler(service, qr.NewQRGenerator(cfg.QR.SecretKey), logger)
	sseHandler := booking_api.NewSSEHandler(logger, emitter)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, logger)
	limiter.StartCleanup(time.Minute, ctx.Done())

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics(m))

	// --- Public Routes ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := bunDB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(buildVerifier(ctx, cfg.Auth, logger), logger))
		r.Use(limiter.Handler)
		logger.Info("AUTH", "Token middleware applied to protected API routes")

		r.Route("/api", func(r chi.Router) {
			handler.Routes(r)
			handler.AdminRoutes(r)
			r.Get("/notifications/stream", sseHandler.HandleNotifications)
		})
		logger.Info("ROUTER", "Booking routes registered under /api")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Booking Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "✅ Booking Service shutdown complete")
	}
}
