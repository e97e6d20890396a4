package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"userlifecycle/internal/api"
	"userlifecycle/internal/cache"
	"userlifecycle/internal/event"
	"userlifecycle/internal/external"
	"userlifecycle/internal/service"
	"userlifecycle/internal/store"
	"userlifecycle/pkg/config"
	"userlifecycle/pkg/logger"
	"userlifecycle/pkg/obs"
	"userlifecycle/pkg/postgres"
	"userlifecycle/pkg/rabbitmq"
	"userlifecycle/pkg/resilience"

	_ "userlifecycle/docs"
)

// @title           User Lifecycle API
// @version         1.0
// @description     A RESTful API that manages users with optimistic concurrency and publishes lifecycle events to RabbitMQ for async processing.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New("api-service", cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	zl.Info("starting api-service")

	db, err := postgres.Connect(cfg.DatabaseURL, zl)
	if err != nil {
		zl.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if err := postgres.RunMigrations(db, "api", zl); err != nil {
		zl.Fatal("failed to run migrations", zap.Error(err))
	}

	rmqConn, err := rabbitmq.Connect(cfg.RabbitMQURL, zl)
	if err != nil {
		zl.Fatal("failed to connect to rabbitmq", zap.Error(err))
	}
	defer rmqConn.Close()

	publisher, err := rabbitmq.NewPublisher(rmqConn, rabbitmq.PublisherOptions{
		Timeout:     cfg.Publisher.Timeout,
		MaxAttempts: cfg.Publisher.MaxAttempts,
		Backoff:     cfg.Publisher.Backoff,
		Source:      cfg.ServiceName,
	}, zl)
	if err != nil {
		zl.Fatal("failed to create publisher", zap.Error(err))
	}
	defer publisher.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer redisClient.Close()

	sink := obs.NewLogSink(zl)
	defer sink.Flush()

	dependency := external.NewSimulated(0.2, 50*time.Millisecond)
	guarded := external.NewService(dependency,
		resilience.Settings{
			WindowSize:       cfg.Breaker.WindowSize,
			MinSamples:       cfg.Breaker.MinSamples,
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenWait:         cfg.Breaker.OpenWait,
			HalfOpenTrials:   cfg.Breaker.HalfOpenTrials,
		},
		resilience.RetrySettings{
			MaxAttempts: cfg.Breaker.MaxRetries,
			Backoff:     cfg.Breaker.RetryBackoff,
			CallTimeout: cfg.Breaker.CallTimeout,
		},
		sink, zl)

	repo := store.NewRepository(db, sink)
	userCache := cache.NewUserCache(redisClient, 5*time.Minute, zl)
	codec := event.NewCodec("api-service")
	users := service.NewUserService(repo, publisher, codec, userCache, guarded, sink, zl)

	handler := api.NewUserHandler(users, zl)
	system := api.NewSystemHandler(db, guarded, sink, zl)
	router := api.NewRouter(handler, system)

	srv := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: router,
	}

	go func() {
		zl.Info("listening", zap.String("port", cfg.APIPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zl.Fatal("server forced to shutdown", zap.Error(err))
	}
	zl.Info("server exited gracefully")
}
