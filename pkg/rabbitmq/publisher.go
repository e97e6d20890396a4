package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const ExchangeName = "events"

// PartitionKeyHeader carries the message key used for per-user ordering.
const PartitionKeyHeader = "x-partition-key"

// ErrPublishFailed is returned when an event could not be confirmed by the
// broker within the attempt budget. The triggering mutation has already
// committed by then; callers log the event as unconfirmed and move on.
var ErrPublishFailed = errors.New("publish failed")

// confirmation is the subset of amqp.DeferredConfirmation the publisher waits on.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// channel abstracts the AMQP channel for publishing, so retry behavior can be
// tested without a broker.
type channel interface {
	PublishWithDeferredConfirm(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
	Close() error
}

// amqpChannel adapts *amqp.Channel to the channel interface.
type amqpChannel struct {
	ch *amqp.Channel
}

func (a *amqpChannel) PublishWithDeferredConfirm(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	return a.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
}

func (a *amqpChannel) Close() error { return a.ch.Close() }

// PublisherOptions bounds delivery attempts.
type PublisherOptions struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Source      string
}

func (o PublisherOptions) withDefaults() PublisherOptions {
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	return o
}

// Publisher publishes messages to the RabbitMQ topic exchange with
// at-least-once semantics: publisher confirms are enabled and unconfirmed
// publishes are retried a bounded number of times with backoff.
type Publisher struct {
	channel channel
	opts    PublisherOptions
	log     *zap.Logger
	sleep   func(time.Duration)
}

// NewPublisher opens a confirm-mode channel and declares the topic exchange.
func NewPublisher(conn *Connection, opts PublisherOptions, log *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

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
		return nil, err
	}

	return &Publisher{
		channel: &amqpChannel{ch: ch},
		opts:    opts.withDefaults(),
		log:     log,
		sleep:   time.Sleep,
	}, nil
}

// Publish sends a message to the exchange with the given routing key,
// keyed by partitionKey so per-user ordering survives downstream.
func (p *Publisher) Publish(ctx context.Context, routingKey string, body []byte, correlationID, partitionKey string) error {
	msg := amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: correlationID,
		Body:          body,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
		Headers:       amqp.Table{PartitionKeyHeader: partitionKey},
	}

	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if err := p.publishOnce(ctx, routingKey, msg); err != nil {
			lastErr = err
			p.log.Warn("publish attempt failed",
				zap.String("routing_key", routingKey),
				zap.String("correlation_id", correlationID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if ctx.Err() != nil {
				break
			}
			if attempt < p.opts.MaxAttempts {
				p.sleep(p.opts.Backoff * time.Duration(1<<(attempt-1)))
			}
			continue
		}

		p.log.Debug("event published",
			zap.String("routing_key", routingKey),
			zap.String("correlation_id", correlationID),
			zap.Int("attempt", attempt),
		)
		return nil
	}

	return fmt.Errorf("%w after %d attempts: %v", ErrPublishFailed, p.opts.MaxAttempts, lastErr)
}

func (p *Publisher) publishOnce(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	attemptCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	confirm, err := p.channel.PublishWithDeferredConfirm(attemptCtx, ExchangeName, routingKey, msg)
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(attemptCtx)
	if err != nil {
		return fmt.Errorf("confirm wait: %w", err)
	}
	if !acked {
		return errors.New("broker nacked publish")
	}
	return nil
}

// Close closes the publisher channel.
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
