package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeliveryStatus is the lifecycle state of a webhook delivery.
type DeliveryStatus string

const (
	StatusPending            DeliveryStatus = "pending"
	StatusInProgress         DeliveryStatus = "in_progress"
	StatusDelivered          DeliveryStatus = "delivered"
	StatusFailed             DeliveryStatus = "failed"
	StatusMaxRetriesExceeded DeliveryStatus = "max_retries_exceeded"
)

// Truncation bounds for stored response/error text.
const (
	MaxResponseBodyLen = 1000
	MaxErrorMessageLen = 500
)

// Terminal reports whether no further transition may leave the status.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusMaxRetriesExceeded
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Terminal states permit nothing.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusInProgress
	case StatusInProgress:
		// An attempt that fails with no retry budget left abandons directly.
		return next == StatusDelivered || next == StatusFailed || next == StatusMaxRetriesExceeded
	case StatusFailed:
		return next == StatusPending || next == StatusMaxRetriesExceeded
	default:
		return false
	}
}

// Delivery is one logical event destined for one subscription. The record is
// the single source of truth for retry eligibility; only the dispatcher and
// the retry scheduler mutate it.
type Delivery struct {
	ID             uuid.UUID       `json:"id"`
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         DeliveryStatus  `json:"status"`
	RetryCount     int             `json:"retry_count"`
	LastAttempt    *time.Time      `json:"last_attempt,omitempty"`
	NextRetry      *time.Time      `json:"next_retry,omitempty"`
	ResponseStatus *int            `json:"response_status,omitempty"`
	ResponseBody   string          `json:"response_body,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TruncateBody bounds a response body for storage.
func TruncateBody(s string) string {
	return truncate(s, MaxResponseBodyLen)
}

// TruncateError bounds an error message for storage.
func TruncateError(s string) string {
	return truncate(s, MaxErrorMessageLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
