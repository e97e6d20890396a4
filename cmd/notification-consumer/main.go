package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"userlifecycle/internal/consumer"
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

	zl, err := logger.New("notification-consumer", cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	zl.Info("starting notification-consumer")

	db, err := postgres.Connect(cfg.DatabaseURL, zl)
	if err != nil {
		zl.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	if err := postgres.RunMigrations(db, "notification", zl); err != nil {
		zl.Fatal("failed to run migrations", zap.Error(err))
	}

	rmqConn, err := rabbitmq.Connect(cfg.RabbitMQURL, zl)
	if err != nil {
		zl.Fatal("failed to connect to rabbitmq", zap.Error(err))
	}
	defer rmqConn.Close()

	sink := obs.NewLogSink(zl)
	defer sink.Flush()

	applier := consumer.NewNotificationApplier(db, consumer.RateSettings{
		EmailPerSecond: cfg.Notify.EmailPerSecond,
		SMSPerSecond:   cfg.Notify.SMSPerSecond,
	}, sink, zl)
	pipeline := consumer.NewPipeline("notification-consumer", db, applier, consumer.Options{}, sink, zl)

	consumerCfg := rabbitmq.ConsumerConfig{
		QueueName:    "notification.dispatch",
		DLQName:      "dlq.notification.dispatch",
		RoutingKeys:  []string{"notification.dispatch"},
		ConsumerName: "notification-consumer",
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
