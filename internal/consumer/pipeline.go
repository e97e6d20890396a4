package consumer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"userlifecycle/internal/event"
	"userlifecycle/pkg/middleware"
	"userlifecycle/pkg/models"
	"userlifecycle/pkg/obs"
)

// ErrPermanent marks a message that can never succeed. The pipeline skips
// retries and lets the delivery dead-letter immediately.
var ErrPermanent = errors.New("permanent processing failure")

// Applier is the domain handler a pipeline drives. It must be idempotent at
// the row level; the pipeline only guarantees duplicate envelopes are
// filtered, not duplicate side effects from a crash between apply and ack.
type Applier interface {
	Apply(ctx context.Context, env models.EventEnvelope) error
}

// Options tunes the in-process retry applied to transient failures before a
// delivery is given up to the DLQ.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 100 * time.Millisecond
	}
	return o
}

// Pipeline runs every delivery through the same stages: decode, validate,
// duplicate check, apply, mark processed. Returning nil acks the delivery;
// returning an error dead-letters it.
type Pipeline struct {
	name    string
	db      *sql.DB
	applier Applier
	opts    Options
	sink    obs.Sink
	log     *zap.Logger
	sleep   func(time.Duration)
}

// NewPipeline builds a pipeline named for its consumer. The db carries the
// processed_events table used for duplicate detection.
func NewPipeline(name string, db *sql.DB, applier Applier, opts Options, sink obs.Sink, log *zap.Logger) *Pipeline {
	return &Pipeline{
		name:    name,
		db:      db,
		applier: applier,
		opts:    opts.withDefaults(),
		sink:    sink,
		log:     log,
		sleep:   time.Sleep,
	}
}

// Handle processes one delivery end to end.
func (p *Pipeline) Handle(delivery amqp.Delivery) error {
	timer := p.sink.StartTimer("consume.duration")
	defer p.sink.StopTimer(timer, map[string]string{"consumer": p.name})

	env, err := event.Decode(delivery.Body)
	if err != nil {
		p.sink.RecordEvent("consume.invalid", map[string]string{"consumer": p.name})
		p.log.Error("undecodable message, dead-lettering",
			zap.String("consumer", p.name),
			zap.String("correlation_id", delivery.CorrelationId),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	if err := validate(env); err != nil {
		p.sink.RecordEvent("consume.invalid", map[string]string{"consumer": p.name})
		p.log.Error("invalid envelope, dead-lettering",
			zap.String("consumer", p.name),
			zap.String("event_id", env.EventID),
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err),
		)
		return err
	}

	ctx := middleware.WithCorrelationID(context.Background(), env.CorrelationID)

	duplicate, err := p.checkDuplicateWithRetry(ctx, env)
	if err != nil {
		return err
	}
	if duplicate {
		p.sink.RecordEvent("consume.duplicate", map[string]string{"consumer": p.name})
		p.log.Info("duplicate event acked",
			zap.String("consumer", p.name),
			zap.String("event_id", env.EventID),
			zap.String("correlation_id", env.CorrelationID),
		)
		return nil
	}

	if err := p.applyWithRetry(ctx, env); err != nil {
		p.sink.RecordEvent("consume.failed", map[string]string{
			"consumer":   p.name,
			"event_type": string(env.EventType),
		})
		return err
	}

	if err := p.markProcessed(ctx, env); err != nil {
		// Apply succeeded. Failing the delivery now would redeliver and
		// rely on the applier's own idempotency, which holds, so prefer
		// acking and logging the bookkeeping miss.
		p.log.Warn("failed to record processed event",
			zap.String("consumer", p.name),
			zap.String("event_id", env.EventID),
			zap.Error(err),
		)
	}

	p.sink.RecordEvent("consume.applied", map[string]string{
		"consumer":   p.name,
		"event_type": string(env.EventType),
	})
	return nil
}

func (p *Pipeline) applyWithRetry(ctx context.Context, env models.EventEnvelope) error {
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		lastErr = p.applier.Apply(ctx, env)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrPermanent) {
			return lastErr
		}
		p.log.Warn("apply failed, retrying",
			zap.String("consumer", p.name),
			zap.String("event_id", env.EventID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt < p.opts.MaxAttempts {
			p.sleep(p.opts.Backoff * time.Duration(attempt))
		}
	}
	return lastErr
}

// checkDuplicateWithRetry treats a failing dedup lookup like any other
// transient failure. A connectivity blip must not dead-letter a message that
// was never even attempted.
func (p *Pipeline) checkDuplicateWithRetry(ctx context.Context, env models.EventEnvelope) (bool, error) {
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		duplicate, err := p.alreadyProcessed(ctx, env.EventID)
		if err == nil {
			return duplicate, nil
		}
		lastErr = err
		p.log.Warn("duplicate check failed, retrying",
			zap.String("consumer", p.name),
			zap.String("event_id", env.EventID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < p.opts.MaxAttempts {
			p.sleep(p.opts.Backoff * time.Duration(attempt))
		}
	}
	return false, lastErr
}

func (p *Pipeline) alreadyProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (p *Pipeline) markProcessed(ctx context.Context, env models.EventEnvelope) error {
	_, err := p.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		env.EventID, string(env.EventType),
	)
	return err
}

// validate rejects envelopes that no amount of retrying can fix: missing
// identity fields, unknown types, or a payload inconsistent with the type.
func validate(env models.EventEnvelope) error {
	if env.EventID == "" {
		return fmt.Errorf("%w: missing event id", ErrPermanent)
	}
	if env.CorrelationID == "" {
		return fmt.Errorf("%w: missing correlation id", ErrPermanent)
	}
	if !env.EventType.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrPermanent, env.EventType)
	}
	switch env.EventType {
	case models.EventUserCreated:
		if env.UserCreated == nil {
			return fmt.Errorf("%w: %s without payload", ErrPermanent, env.EventType)
		}
		if env.UserCreated.User.Email == "" {
			return fmt.Errorf("%w: %s without user email", ErrPermanent, env.EventType)
		}
	case models.EventUserUpdated:
		if env.UserUpdated == nil {
			return fmt.Errorf("%w: %s without payload", ErrPermanent, env.EventType)
		}
		if env.UserUpdated.User.Email == "" {
			return fmt.Errorf("%w: %s without user email", ErrPermanent, env.EventType)
		}
	case models.EventUserDeleted:
		if env.UserDeleted == nil {
			return fmt.Errorf("%w: %s without payload", ErrPermanent, env.EventType)
		}
		if env.UserDeleted.UserID == "" {
			return fmt.Errorf("%w: %s without user id", ErrPermanent, env.EventType)
		}
	case models.EventNotification:
		if env.Notification == nil {
			return fmt.Errorf("%w: %s without payload", ErrPermanent, env.EventType)
		}
		if env.Notification.RecipientID == "" {
			return fmt.Errorf("%w: %s without recipient", ErrPermanent, env.EventType)
		}
	}
	return nil
}
