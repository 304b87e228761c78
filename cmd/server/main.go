/**
 * @description
 * Entry point for the pool engine service. Initializes configuration, the
 * PostgreSQL pool, Redis, RabbitMQ producer and consumer, the treasury
 * guard, the scheduler and the HTTP server, then runs until a shutdown
 * signal arrives.
 *
 * @dependencies
 * - internal/api, internal/app, internal/config, internal/observability,
 *   internal/store: the engine's packages.
 * - pkg/rabbitmq: broker connectivity.
 */

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hredostate/Togedaly-New-sub001/internal/api"
	"github.com/hredostate/Togedaly-New-sub001/internal/app"
	"github.com/hredostate/Togedaly-New-sub001/internal/config"
	"github.com/hredostate/Togedaly-New-sub001/internal/observability"
	"github.com/hredostate/Togedaly-New-sub001/internal/store"
	"github.com/hredostate/Togedaly-New-sub001/pkg/rabbitmq"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		logger.Error("internal api key must be configured", "env", "INTERNAL_API_KEY")
		os.Exit(1)
	}

	logger.Info("starting pool engine", "port", cfg.ServerPort)

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("database url parse failed", "error", err)
		os.Exit(1)
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connected")

	// Redis backs the rolling treasury ceilings. The guard fails closed, so
	// a missing Redis means ceiling-limited operations are rejected rather
	// than waved through.
	var ceilings app.CeilingTracker
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Warn("redis url missing; treasury ceilings will reject", "env", "REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			logger.Error("redis url parse failed", "error", parseErr)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOptions)
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
			cancelPing()
			logger.Error("redis ping failed", "error", pingErr)
			os.Exit(1)
		}
		cancelPing()
		defer redisClient.Close()
		logger.Info("redis connected")
		ceilings = app.NewRedisCeilingTracker(redisClient, cfg.RedisCeilingPrefix)
	}

	var producer rabbitmq.Publisher
	eventProducer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn("rabbitmq producer unavailable; using fallback", "error", err)
		producer = &rabbitmq.EventProducerFallback{}
	} else {
		defer eventProducer.Close()
		logger.Info("rabbitmq producer connected")
		producer = eventProducer
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	repository := store.NewPostgresRepository(dbpool)
	guard := app.NewTreasuryGuard(repository, ceilings, metrics, logger)

	service := app.NewService(
		repository,
		producer,
		guard,
		metrics,
		logger,
		cfg.PoolEventsExchange,
		app.PenaltyPolicy{Percent: cfg.PenaltyPercent, FloorKobo: cfg.PenaltyFloorKobo},
		config.ReloadGlobalCreditKillSwitch,
	)

	creditConsumer := app.NewCreditEventConsumer(service, logger)
	rabbitConsumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		logger.Error("rabbitmq consumer init failed", "error", err)
		os.Exit(1)
	}
	defer rabbitConsumer.Close()

	creditBindings := map[string]func([]byte) bool{
		"payment.credit.contribution": creditConsumer.HandleMessage,
		"payment.credit.collateral":   creditConsumer.HandleMessage,
	}
	if err := rabbitConsumer.ConsumeWithBindings(cfg.PoolEventsExchange, cfg.CreditEventQueue, creditBindings); err != nil {
		logger.Error("credit consumer start failed", "error", err)
		os.Exit(1)
	}

	jobs := app.NewJobs(service, repository, metrics, logger)
	scheduler := app.NewScheduler(jobs, logger, cfg)
	scheduler.Start()

	handlers := api.NewPoolEngineHandlers(service, logger)
	router := api.PoolEngineRoutes(handlers, cfg.InternalAPIKey, cfg.AdminJWKSURL, registry)

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	<-scheduler.Stop().Done()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}

	logger.Info("shutdown complete")
}
