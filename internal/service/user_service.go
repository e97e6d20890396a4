package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"userlifecycle/internal/event"
	"userlifecycle/pkg/middleware"
	"userlifecycle/pkg/models"
	"userlifecycle/pkg/obs"
)

// ErrInvalidStatus rejects mutations carrying an unknown status value.
var ErrInvalidStatus = errors.New("invalid user status")

// ErrInvalidEmail rejects mutations whose email failed validation.
var ErrInvalidEmail = errors.New("email failed validation")

// Store is the persistence gateway the service mutates through.
type Store interface {
	Create(ctx context.Context, draft models.CreateUserRequest) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	Update(ctx context.Context, id string, patch models.UpdateUserRequest) (models.User, models.User, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter models.ListFilter) ([]models.User, error)
	SearchByName(ctx context.Context, name string) ([]models.User, error)
	FindByTags(ctx context.Context, tags []string) ([]models.User, error)
	CountByStatus(ctx context.Context, status models.UserStatus) (int64, error)
}

// EventPublisher delivers encoded envelopes to the broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, body []byte, correlationID, partitionKey string) error
}

// Cache is a best-effort read cache for user lookups.
type Cache interface {
	Get(ctx context.Context, id string) (models.User, bool)
	Set(ctx context.Context, user models.User)
	Invalidate(ctx context.Context, id string)
}

// EmailValidator checks an email against the external validation dependency.
// Implementations absorb dependency failures behind a fallback, so the
// returned error is only ever a hard "do not proceed".
type EmailValidator interface {
	ValidateEmail(ctx context.Context, email string) (bool, error)
}

// UserService coordinates the user lifecycle: validate, persist with
// optimistic concurrency, then convert the committed mutation into exactly
// one event publish. Publication is strictly best-effort: by the time it
// runs the mutation has committed and is never rolled back.
type UserService struct {
	store     Store
	publisher EventPublisher
	codec     *event.Codec
	cache     Cache
	validator EmailValidator
	sink      obs.Sink
	log       *zap.Logger
}

// NewUserService wires the lifecycle pipeline together.
func NewUserService(
	store Store,
	publisher EventPublisher,
	codec *event.Codec,
	cache Cache,
	validator EmailValidator,
	sink obs.Sink,
	log *zap.Logger,
) *UserService {
	return &UserService{
		store:     store,
		publisher: publisher,
		codec:     codec,
		cache:     cache,
		validator: validator,
		sink:      sink,
		log:       log,
	}
}

// CreateUser validates and persists a new user, then publishes user.created.
func (s *UserService) CreateUser(ctx context.Context, draft models.CreateUserRequest) (models.User, error) {
	if draft.Status != "" && !draft.Status.Valid() {
		return models.User{}, ErrInvalidStatus
	}

	valid, err := s.validator.ValidateEmail(ctx, draft.Email)
	if err != nil {
		return models.User{}, err
	}
	if !valid {
		return models.User{}, ErrInvalidEmail
	}

	user, err := s.store.Create(ctx, draft)
	if err != nil {
		return models.User{}, err
	}

	s.sink.RecordEvent("users.created", map[string]string{"source": "api"})
	correlationID := middleware.CorrelationFromContext(ctx)
	s.publish(ctx, s.codec.UserCreated(correlationID, user))

	// Welcome notification rides the same pipeline as every other event.
	s.publish(ctx, s.codec.Notification(correlationID, models.NotificationPayload{
		RecipientID: user.ID,
		Type:        models.NotificationEmail,
		Title:       "Welcome!",
		Message:     "Your account has been created.",
		Priority:    models.PriorityMedium,
	}))

	return user, nil
}

// GetUser resolves a user by id, read-through the cache.
func (s *UserService) GetUser(ctx context.Context, id string) (models.User, error) {
	if user, ok := s.cache.Get(ctx, id); ok {
		s.sink.RecordEvent("cache.hit", nil)
		return user, nil
	}
	s.sink.RecordEvent("cache.miss", nil)

	user, err := s.store.GetByID(ctx, id)
	if err != nil {
		return models.User{}, err
	}
	s.cache.Set(ctx, user)
	return user, nil
}

// GetUserByEmail resolves a user by email.
func (s *UserService) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	return s.store.GetByEmail(ctx, email)
}

// UpdateUser applies the patch under optimistic concurrency and publishes
// user.updated. A stale version surfaces ErrConcurrentModification from the
// store; the caller re-reads and resubmits.
func (s *UserService) UpdateUser(ctx context.Context, id string, patch models.UpdateUserRequest) (models.User, error) {
	if patch.Status != "" && !patch.Status.Valid() {
		return models.User{}, ErrInvalidStatus
	}

	if patch.Email != "" {
		valid, err := s.validator.ValidateEmail(ctx, patch.Email)
		if err != nil {
			return models.User{}, err
		}
		if !valid {
			return models.User{}, ErrInvalidEmail
		}
	}

	updated, previous, err := s.store.Update(ctx, id, patch)
	if err != nil {
		return models.User{}, err
	}

	s.cache.Invalidate(ctx, id)
	s.sink.RecordEvent("users.updated", nil)

	correlationID := middleware.CorrelationFromContext(ctx)
	s.publish(ctx, s.codec.UserUpdated(correlationID, updated, previous))

	return updated, nil
}

// DeleteUser hard-removes the user and publishes user.deleted. A missing id
// fails with ErrNotFound and publishes nothing.
func (s *UserService) DeleteUser(ctx context.Context, id, reason string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.cache.Invalidate(ctx, id)
	s.sink.RecordEvent("users.deleted", nil)

	correlationID := middleware.CorrelationFromContext(ctx)
	s.publish(ctx, s.codec.UserDeleted(correlationID, id, reason))

	return nil
}

// ListUsers returns users matching the filter.
func (s *UserService) ListUsers(ctx context.Context, filter models.ListFilter) ([]models.User, error) {
	return s.store.List(ctx, filter)
}

// SearchUsers returns users whose name contains the fragment.
func (s *UserService) SearchUsers(ctx context.Context, name string) ([]models.User, error) {
	return s.store.SearchByName(ctx, name)
}

// UsersByTags returns users carrying any of the tags.
func (s *UserService) UsersByTags(ctx context.Context, tags []string) ([]models.User, error) {
	return s.store.FindByTags(ctx, tags)
}

// CountByStatus returns the number of users in the given status.
func (s *UserService) CountByStatus(ctx context.Context, status models.UserStatus) (int64, error) {
	return s.store.CountByStatus(ctx, status)
}

// publish encodes and delivers one envelope after a committed mutation.
// Failures are logged as unconfirmed and never surfaced to the caller: the
// mutation already happened. Caller cancellation no longer applies here, the
// publisher's own timeout bounds the call instead.
func (s *UserService) publish(ctx context.Context, env models.EventEnvelope) {
	body, err := event.Encode(env)
	if err != nil {
		s.log.Error("failed to encode event",
			zap.String("event_id", env.EventID),
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err),
		)
		return
	}

	detached := context.WithoutCancel(ctx)
	if err := s.publisher.Publish(detached, event.RoutingKey(env), body, env.CorrelationID, env.PartitionKey); err != nil {
		s.sink.RecordEvent("publish.unconfirmed", map[string]string{"event_type": string(env.EventType)})
		s.log.Error("event unconfirmed, mutation already committed",
			zap.String("event_id", env.EventID),
			zap.String("event_type", string(env.EventType)),
			zap.String("correlation_id", env.CorrelationID),
			zap.Error(err),
		)
		return
	}

	s.sink.RecordEvent("publish.confirmed", map[string]string{"event_type": string(env.EventType)})
}
