package consumer

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"userlifecycle/pkg/models"
	"userlifecycle/pkg/obs"
)

// RateSettings caps outbound delivery per channel. Values are deliveries
// per second; a zero value falls back to the default for that channel.
type RateSettings struct {
	EmailPerSecond float64
	SMSPerSecond   float64
}

func (r RateSettings) withDefaults() RateSettings {
	if r.EmailPerSecond <= 0 {
		r.EmailPerSecond = 1
	}
	if r.SMSPerSecond <= 0 {
		r.SMSPerSecond = 0.2
	}
	return r
}

// NotificationApplier delivers dispatch requests. Delivery is simulated by
// writing the notification log; the unique event_id column makes redelivery
// of the same event a no-op at the row level.
type NotificationApplier struct {
	db       *sql.DB
	limiters map[models.NotificationType]*rate.Limiter
	sink     obs.Sink
	log      *zap.Logger
}

// NewNotificationApplier builds the applier with one limiter per throttled
// channel. Push and in-app are not throttled.
func NewNotificationApplier(db *sql.DB, settings RateSettings, sink obs.Sink, log *zap.Logger) *NotificationApplier {
	settings = settings.withDefaults()
	return &NotificationApplier{
		db: db,
		limiters: map[models.NotificationType]*rate.Limiter{
			models.NotificationEmail: rate.NewLimiter(rate.Limit(settings.EmailPerSecond), 1),
			models.NotificationSMS:   rate.NewLimiter(rate.Limit(settings.SMSPerSecond), 1),
		},
		sink: sink,
		log:  log,
	}
}

// Apply waits for channel capacity, then records the delivery. Urgent
// notifications skip the rate limit.
func (a *NotificationApplier) Apply(ctx context.Context, env models.EventEnvelope) error {
	if env.EventType != models.EventNotification {
		return fmt.Errorf("%w: notification consumer cannot handle %s", ErrPermanent, env.EventType)
	}
	payload := env.Notification

	if limiter, ok := a.limiters[payload.Type]; ok && payload.Priority != models.PriorityUrgent {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	result, err := a.db.ExecContext(ctx,
		`INSERT INTO notification_log (event_id, correlation_id, recipient_id, channel, title, priority)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (event_id) DO NOTHING`,
		env.EventID, env.CorrelationID, payload.RecipientID,
		string(payload.Type), payload.Title, string(payload.Priority),
	)
	if err != nil {
		return err
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		a.log.Info("notification already delivered",
			zap.String("event_id", env.EventID),
			zap.String("recipient_id", payload.RecipientID),
		)
		return nil
	}

	a.sink.RecordEvent("notification.delivered", map[string]string{
		"channel":  string(payload.Type),
		"priority": string(payload.Priority),
	})
	a.log.Info("notification delivered",
		zap.String("event_id", env.EventID),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("recipient_id", payload.RecipientID),
		zap.String("channel", string(payload.Type)),
		zap.String("priority", string(payload.Priority)),
	)
	return nil
}
