package consumer

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"userlifecycle/internal/event"
	"userlifecycle/pkg/models"
	"userlifecycle/pkg/obs"
)

// Publisher is the slice of the broker publisher the lifecycle applier needs
// for follow-up notifications.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, correlationID, partitionKey string) error
}

// CacheInvalidator drops a cached user after its row changed upstream.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, id string)
}

// LifecycleApplier materializes user lifecycle events: it keeps the audit
// log and the search index current, invalidates the read cache, and turns
// status transitions into notifications.
type LifecycleApplier struct {
	db        *sql.DB
	publisher Publisher
	codec     *event.Codec
	cache     CacheInvalidator
	sink      obs.Sink
	log       *zap.Logger
}

// NewLifecycleApplier wires the lifecycle event handler. cache may be nil
// when no read cache is deployed.
func NewLifecycleApplier(db *sql.DB, publisher Publisher, codec *event.Codec, cache CacheInvalidator, sink obs.Sink, log *zap.Logger) *LifecycleApplier {
	return &LifecycleApplier{
		db:        db,
		publisher: publisher,
		codec:     codec,
		cache:     cache,
		sink:      sink,
		log:       log,
	}
}

// Apply dispatches on the event type. Unknown types were already rejected by
// the pipeline validation stage.
func (a *LifecycleApplier) Apply(ctx context.Context, env models.EventEnvelope) error {
	switch env.EventType {
	case models.EventUserCreated:
		return a.applyCreated(ctx, env)
	case models.EventUserUpdated:
		return a.applyUpdated(ctx, env)
	case models.EventUserDeleted:
		return a.applyDeleted(ctx, env)
	default:
		return fmt.Errorf("%w: lifecycle consumer cannot handle %s", ErrPermanent, env.EventType)
	}
}

func (a *LifecycleApplier) applyCreated(ctx context.Context, env models.EventEnvelope) error {
	user := env.UserCreated.User

	if err := a.audit(ctx, env, user.ID, "user created"); err != nil {
		return err
	}
	if err := a.indexUser(ctx, user); err != nil {
		return err
	}

	a.log.Info("user created applied",
		zap.String("event_id", env.EventID),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("user_id", user.ID),
	)
	return nil
}

func (a *LifecycleApplier) applyUpdated(ctx context.Context, env models.EventEnvelope) error {
	payload := env.UserUpdated
	user := payload.User

	detail := "changed: " + strings.Join(payload.ChangedFields, ", ")
	if err := a.audit(ctx, env, user.ID, detail); err != nil {
		return err
	}
	if err := a.indexUser(ctx, user); err != nil {
		return err
	}
	if a.cache != nil {
		a.cache.Invalidate(ctx, user.ID)
	}

	a.handleStatusTransition(ctx, env, payload.PreviousUser.Status, user)

	a.log.Info("user updated applied",
		zap.String("event_id", env.EventID),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("user_id", user.ID),
		zap.Strings("changed_fields", payload.ChangedFields),
	)
	return nil
}

func (a *LifecycleApplier) applyDeleted(ctx context.Context, env models.EventEnvelope) error {
	payload := env.UserDeleted

	if err := a.audit(ctx, env, payload.UserID, "deleted: "+payload.Reason); err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx,
		"DELETE FROM user_search_index WHERE user_id = $1", payload.UserID,
	); err != nil {
		return err
	}
	if a.cache != nil {
		a.cache.Invalidate(ctx, payload.UserID)
	}

	a.log.Info("user deleted applied",
		zap.String("event_id", env.EventID),
		zap.String("correlation_id", env.CorrelationID),
		zap.String("user_id", payload.UserID),
	)
	return nil
}

// handleStatusTransition sends an account notification when a user is
// deactivated or comes back from a deactivated state. Other transitions,
// such as pending to active, stay silent. Publish is best-effort, the
// lifecycle apply does not fail with it.
func (a *LifecycleApplier) handleStatusTransition(ctx context.Context, env models.EventEnvelope, previous models.UserStatus, user models.User) {
	if previous == user.Status {
		return
	}

	var payload models.NotificationPayload
	switch {
	case user.Status == models.StatusSuspended || user.Status == models.StatusInactive:
		payload = models.NotificationPayload{
			RecipientID: user.ID,
			Type:        models.NotificationEmail,
			Title:       "Account deactivated",
			Message:     fmt.Sprintf("Your account status changed to %s.", user.Status),
			Priority:    models.PriorityHigh,
		}
	case user.Status == models.StatusActive &&
		(previous == models.StatusSuspended || previous == models.StatusInactive):
		payload = models.NotificationPayload{
			RecipientID: user.ID,
			Type:        models.NotificationEmail,
			Title:       "Account reactivated",
			Message:     "Welcome back! Your account is active again.",
			Priority:    models.PriorityMedium,
		}
	default:
		return
	}

	a.sink.RecordEvent("lifecycle.status_transition", map[string]string{
		"from": string(previous),
		"to":   string(user.Status),
	})

	notif := a.codec.NotificationFrom(env, payload)
	body, err := event.Encode(notif)
	if err != nil {
		a.log.Error("failed to encode status notification", zap.Error(err))
		return
	}
	if err := a.publisher.Publish(ctx, event.RoutingKey(notif), body, env.CorrelationID, notif.PartitionKey); err != nil {
		a.log.Error("status notification unconfirmed",
			zap.String("event_id", notif.EventID),
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err),
		)
	}
}

// audit records the event once. A redelivery after a crash between apply and
// ack hits the event_id unique constraint and becomes a no-op.
func (a *LifecycleApplier) audit(ctx context.Context, env models.EventEnvelope, userID, detail string) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO audit_log (event_id, correlation_id, event_type, user_id, detail)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (event_id) DO NOTHING`,
		env.EventID, env.CorrelationID, string(env.EventType), userID, detail,
	)
	return err
}

func (a *LifecycleApplier) indexUser(ctx context.Context, user models.User) error {
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO user_search_index (user_id, name, email, status, indexed_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id) DO UPDATE
		 SET name = EXCLUDED.name, email = EXCLUDED.email, status = EXCLUDED.status, indexed_at = NOW()`,
		user.ID, user.Name, user.Email, string(user.Status),
	)
	return err
}
