package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"userlifecycle/internal/cache"
	"userlifecycle/internal/consumer"
	"userlifecycle/internal/event"
	"userlifecycle/pkg/config"
	"userlifecycle/pkg/logger"
	"userlifecycle/pkg/obs"
	"userlifecycle/pkg/postgres"
	"userlifecycle/pkg/rabbitmq"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New("lifecycle-consumer", cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	zl.Info("starting lifecycle-consumer")

	db, err := postgres.Connect(cfg.DatabaseURL, zl)
	if err != nil {
		zl.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if err := postgres.RunMigrations(db, "lifecycle", zl); err != nil {
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
		Source:      "lifecycle-consumer",
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

	userCache := cache.NewUserCache(redisClient, 5*time.Minute, zl)
	applier := consumer.NewLifecycleApplier(db, publisher, event.NewCodec("lifecycle-consumer"), userCache, sink, zl)
	pipeline := consumer.NewPipeline("lifecycle-consumer", db, applier, consumer.Options{}, sink, zl)

	consumerCfg := rabbitmq.ConsumerConfig{
		QueueName:    "lifecycle.user.events",
		DLQName:      "dlq.lifecycle.user.events",
		RoutingKeys:  []string{"user.created", "user.updated", "user.deleted"},
		ConsumerName: "lifecycle-consumer",
	}

	if err := rabbitmq.SetupConsumer(rmqConn, consumerCfg, pipeline.Handle, zl); err != nil {
		zl.Fatal("failed to setup consumer", zap.Error(err))
	}

	zl.Info("consumer is running, waiting for messages")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zl.Info("shutting down")
}
