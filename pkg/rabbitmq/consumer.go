package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ConsumerConfig holds configuration for setting up a consumer.
type ConsumerConfig struct {
	QueueName    string
	DLQName      string
	RoutingKeys  []string
	ConsumerName string
}

// MessageHandler processes a delivered message.
// Return nil to ack, return an error to nack (routes the message to the DLQ).
type MessageHandler func(delivery amqp.Delivery) error

// SetupConsumer declares the main queue and its DLQ, binds them, and starts
// consuming with manual acks. Prefetch is held at 1 so deliveries on the
// queue are processed strictly in order.
func SetupConsumer(conn *Connection, cfg ConsumerConfig, handler MessageHandler, log *zap.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	// Declare the topic exchange (idempotent)
	err = ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	// Declare DLQ
	_, err = ch.QueueDeclare(
		cfg.DLQName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	// Declare main queue with DLQ settings
	args := amqp.Table{
		"x-dead-letter-exchange":    "",          // default exchange
		"x-dead-letter-routing-key": cfg.DLQName, // route to DLQ
	}

	_, err = ch.QueueDeclare(
		cfg.QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		args,
	)
	if err != nil {
		return err
	}

	// Bind queue to exchange with routing keys
	for _, key := range cfg.RoutingKeys {
		err = ch.QueueBind(
			cfg.QueueName,
			key,
			ExchangeName,
			false,
			nil,
		)
		if err != nil {
			return err
		}
	}

	// One in-flight message at a time preserves per-key ordering.
	err = ch.Qos(1, 0, false)
	if err != nil {
		return err
	}

	msgs, err := ch.Consume(
		cfg.QueueName,
		cfg.ConsumerName,
		false, // auto-ack = false (manual ack)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	go func() {
		for msg := range msgs {
			log.Debug("received message",
				zap.String("consumer", cfg.ConsumerName),
				zap.String("routing_key", msg.RoutingKey),
				zap.String("correlation_id", msg.CorrelationId),
			)

			if err := handler(msg); err != nil {
				log.Error("message processing failed, routing to DLQ",
					zap.String("consumer", cfg.ConsumerName),
					zap.String("correlation_id", msg.CorrelationId),
					zap.Error(err),
				)
				_ = msg.Nack(false, false) // don't requeue
			} else {
				_ = msg.Ack(false)
			}
		}
	}()

	log.Info("consumer started",
		zap.String("consumer", cfg.ConsumerName),
		zap.String("queue", cfg.QueueName),
	)
	return nil
}
