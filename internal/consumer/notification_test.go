package consumer

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"userlifecycle/internal/event"
	"userlifecycle/pkg/models"
	"userlifecycle/pkg/obs"
)

func newNotificationFixture(t *testing.T) (*NotificationApplier, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	applier := NewNotificationApplier(db,
		RateSettings{EmailPerSecond: 1000, SMSPerSecond: 1000},
		obs.Nop{}, zap.NewNop())
	return applier, mock
}

func notificationEnvelope(priority models.NotificationPriority) models.EventEnvelope {
	codec := event.NewCodec("api-service")
	return codec.Notification("corr-1", models.NotificationPayload{
		RecipientID: "user-1",
		Type:        models.NotificationEmail,
		Title:       "Welcome!",
		Message:     "Your account has been created.",
		Priority:    priority,
	})
}

func TestNotificationDeliveryWritesLog(t *testing.T) {
	applier, mock := newNotificationFixture(t)
	env := notificationEnvelope(models.PriorityMedium)

	mock.ExpectExec("INSERT INTO notification_log").
		WithArgs(env.EventID, "corr-1", "user-1", "email", "Welcome!", "medium").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, applier.Apply(context.Background(), env))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRedeliveryIsNoOp(t *testing.T) {
	applier, mock := newNotificationFixture(t)
	env := notificationEnvelope(models.PriorityMedium)

	mock.ExpectExec("INSERT INTO notification_log").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, applier.Apply(context.Background(), env))
}

func TestNotificationRejectsLifecycleEvents(t *testing.T) {
	applier, _ := newNotificationFixture(t)
	codec := event.NewCodec("api-service")
	env := codec.UserCreated("corr-1", models.User{ID: "user-1"})

	err := applier.Apply(context.Background(), env)
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestNotificationRateLimitThrottlesEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Limiter with burst 1 at 10/s: the second delivery has to wait.
	applier := NewNotificationApplier(db, RateSettings{EmailPerSecond: 10, SMSPerSecond: 10}, obs.Nop{}, zap.NewNop())

	mock.ExpectExec("INSERT INTO notification_log").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO notification_log").WillReturnResult(sqlmock.NewResult(1, 1))

	start := time.Now()
	require.NoError(t, applier.Apply(context.Background(), notificationEnvelope(models.PriorityMedium)))
	require.NoError(t, applier.Apply(context.Background(), notificationEnvelope(models.PriorityMedium)))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestNotificationUrgentBypassesRateLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	// Effectively zero capacity; only the urgent bypass lets this through.
	applier := NewNotificationApplier(db, RateSettings{EmailPerSecond: 0.0001, SMSPerSecond: 0.0001}, obs.Nop{}, zap.NewNop())
	// First token is available immediately, burn it on a throttled send.
	mock.ExpectExec("INSERT INTO notification_log").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO notification_log").WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, applier.Apply(context.Background(), notificationEnvelope(models.PriorityMedium)))

	done := make(chan error, 1)
	go func() {
		done <- applier.Apply(context.Background(), notificationEnvelope(models.PriorityUrgent))
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("urgent notification was rate limited")
	}
}

func TestNotificationRateLimitCancelable(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	applier := NewNotificationApplier(db, RateSettings{EmailPerSecond: 0.0001, SMSPerSecond: 0.0001}, obs.Nop{}, zap.NewNop())

	// Exhaust the single burst token, then wait under a deadline that is
	// far shorter than the refill interval.
	require.NoError(t, applier.limiters[models.NotificationEmail].Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = applier.Apply(ctx, notificationEnvelope(models.PriorityMedium))
	assert.Error(t, err)
}
