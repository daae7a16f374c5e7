package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies the kind of security event.
type EventType string

// Event types written by the core.
const (
	// EventBlockedAttempt is written when a blocked actor sends an event.
	EventBlockedAttempt EventType = "blocked_user_attempt"

	// EventRateLimitExceeded is written when an actor exceeds a rate limit.
	EventRateLimitExceeded EventType = "rate_limit_exceeded"

	// EventSuspiciousMessage is written when free text matches an attack
	// signature.
	EventSuspiciousMessage EventType = "suspicious_message"

	// EventUserBlocked is written when an actor is added to the blocklist.
	EventUserBlocked EventType = "user_blocked"

	// EventUserUnblocked is written when an actor is removed from the
	// blocklist.
	EventUserUnblocked EventType = "user_unblocked"
)

// Severity is the severity of a security event.
type Severity string

// Severities.
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is an immutable security event. Events are append-only; they are
// never mutated or deleted, and ordering across records carries no meaning.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Type is the kind of event.
	Type EventType `json:"type"`

	// Actor is the external identity the event concerns.
	Actor int64 `json:"actor"`

	// Details contains event-specific metadata.
	Details map[string]interface{} `json:"details,omitempty"`

	// Severity is the event severity.
	Severity Severity `json:"severity"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// TraceID is the trace ID for distributed tracing, when present.
	TraceID string `json:"trace_id,omitempty"`
}

// NewEvent creates an event with a fresh ID and the current UTC time.
func NewEvent(eventType EventType, actor int64, severity Severity) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Actor:     actor,
		Severity:  severity,
		Timestamp: time.Now().UTC(),
		Details:   make(map[string]interface{}),
	}
}

// WithDetail adds a detail entry to the event.
func (e *Event) WithDetail(key string, value interface{}) *Event {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}
