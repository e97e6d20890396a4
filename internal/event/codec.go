package event

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"userlifecycle/pkg/models"
)

// Codec converts domain mutations into versioned event envelopes. It is pure
// and deterministic: the same inputs always produce the same envelope shape,
// regardless of which transport triggered the mutation.
type Codec struct {
	source string
	newID  func() string
	now    func() time.Time
}

// NewCodec creates a codec stamping envelopes with the given source name.
func NewCodec(source string) *Codec {
	return &Codec{
		source: source,
		newID:  func() string { return uuid.New().String() },
		now:    time.Now,
	}
}

// UserCreated builds the envelope for a freshly persisted user.
func (c *Codec) UserCreated(correlationID string, user models.User) models.EventEnvelope {
	env := c.base(models.EventUserCreated, correlationID, user.ID)
	env.UserCreated = &models.UserCreatedPayload{User: user}
	return env
}

// UserUpdated builds the envelope for an update, carrying both states and the
// list of fields that actually changed between them.
func (c *Codec) UserUpdated(correlationID string, user, previous models.User) models.EventEnvelope {
	env := c.base(models.EventUserUpdated, correlationID, user.ID)
	env.UserUpdated = &models.UserUpdatedPayload{
		User:          user,
		PreviousUser:  previous,
		ChangedFields: ChangedFields(previous, user),
	}
	return env
}

// UserDeleted builds the envelope for a hard removal.
func (c *Codec) UserDeleted(correlationID, userID, reason string) models.EventEnvelope {
	if reason == "" {
		reason = "user requested deletion"
	}
	env := c.base(models.EventUserDeleted, correlationID, userID)
	env.UserDeleted = &models.UserDeletedPayload{UserID: userID, Reason: reason}
	return env
}

// Notification builds the envelope for a downstream notification dispatch.
func (c *Codec) Notification(correlationID string, payload models.NotificationPayload) models.EventEnvelope {
	env := c.base(models.EventNotification, correlationID, payload.RecipientID)
	env.Notification = &payload
	return env
}

// NotificationFrom builds a notification whose identity is derived from the
// event that caused it. Re-applying the same trigger yields the same event
// id, so the delivery log collapses redeliveries into one send.
func (c *Codec) NotificationFrom(trigger models.EventEnvelope, payload models.NotificationPayload) models.EventEnvelope {
	env := c.base(models.EventNotification, trigger.CorrelationID, payload.RecipientID)
	env.EventID = uuid.NewSHA1(uuid.NameSpaceOID, []byte(trigger.EventID+"/"+payload.Title)).String()
	env.Notification = &payload
	return env
}

func (c *Codec) base(eventType models.EventType, correlationID, partitionKey string) models.EventEnvelope {
	return models.EventEnvelope{
		EventID:       c.newID(),
		EventType:     eventType,
		Source:        c.source,
		Timestamp:     c.now().UTC(),
		CorrelationID: correlationID,
		Metadata:      map[string]string{"service": c.source, "schema": "1.0.0"},
		PartitionKey:  partitionKey,
	}
}

// RoutingKey returns the broker routing key for an envelope.
func RoutingKey(env models.EventEnvelope) string {
	return string(env.EventType)
}

// Encode serializes an envelope to its JSON wire form.
func Encode(env models.EventEnvelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope from its JSON wire form.
func Decode(data []byte) (models.EventEnvelope, error) {
	var env models.EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return models.EventEnvelope{}, fmt.Errorf("failed to decode envelope: %w", err)
	}
	return env, nil
}

// ChangedFields lists the user fields that genuinely differ between the
// previous and current states. An unchanged field never appears.
func ChangedFields(previous, current models.User) []string {
	changed := []string{}
	if previous.Name != current.Name {
		changed = append(changed, "name")
	}
	if previous.Email != current.Email {
		changed = append(changed, "email")
	}
	if previous.Age != current.Age {
		changed = append(changed, "age")
	}
	if previous.Status != current.Status {
		changed = append(changed, "status")
	}
	if !reflect.DeepEqual(previous.Tags, current.Tags) {
		changed = append(changed, "tags")
	}
	if !reflect.DeepEqual(previous.Profile, current.Profile) {
		changed = append(changed, "profile")
	}
	return changed
}
