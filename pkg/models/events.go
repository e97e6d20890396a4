package models

import "time"

// EventType represents the type of domain event.
type EventType string

const (
	EventUserCreated  EventType = "user.created"
	EventUserUpdated  EventType = "user.updated"
	EventUserDeleted  EventType = "user.deleted"
	EventNotification EventType = "notification.dispatch"
)

// Valid reports whether t is a recognized event type.
func (t EventType) Valid() bool {
	switch t {
	case EventUserCreated, EventUserUpdated, EventUserDeleted, EventNotification:
		return true
	}
	return false
}

// NotificationType is the delivery channel for a notification.
type NotificationType string

const (
	NotificationEmail NotificationType = "email"
	NotificationSMS   NotificationType = "sms"
	NotificationPush  NotificationType = "push"
	NotificationInApp NotificationType = "in_app"
)

// NotificationPriority orders notification dispatch.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// EventEnvelope is the transport wrapper for all domain events. Exactly one
// payload field is set, matching EventType. Envelopes are immutable once
// constructed; consumers only read them.
type EventEnvelope struct {
	EventID       string            `json:"event_id"`
	EventType     EventType         `json:"event_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	CorrelationID string            `json:"correlation_id"`
	Metadata      map[string]string `json:"metadata,omitempty"`

	// PartitionKey is the broker message key (the user ID for lifecycle
	// events) so that per-user ordering survives partitioned delivery.
	PartitionKey string `json:"partition_key"`

	UserCreated  *UserCreatedPayload  `json:"user_created,omitempty"`
	UserUpdated  *UserUpdatedPayload  `json:"user_updated,omitempty"`
	UserDeleted  *UserDeletedPayload  `json:"user_deleted,omitempty"`
	Notification *NotificationPayload `json:"notification,omitempty"`
}

// UserCreatedPayload carries the newly created user.
type UserCreatedPayload struct {
	User User `json:"user"`
}

// UserUpdatedPayload carries the new and previous user states plus the list
// of fields that actually changed between them.
type UserUpdatedPayload struct {
	User          User     `json:"user"`
	PreviousUser  User     `json:"previous_user"`
	ChangedFields []string `json:"changed_fields"`
}

// UserDeletedPayload identifies a hard-removed user.
type UserDeletedPayload struct {
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

// NotificationPayload describes a notification to dispatch downstream.
type NotificationPayload struct {
	RecipientID string               `json:"recipient_id"`
	Type        NotificationType     `json:"type"`
	Title       string               `json:"title"`
	Message     string               `json:"message"`
	Priority    NotificationPriority `json:"priority"`
}
