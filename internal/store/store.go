package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/why-aditi/webhook-delivery-service/internal/domain"
)

var (
	// ErrNotFound signals a missing subscription or delivery record.
	ErrNotFound = errors.New("record not found")
	// ErrNotClaimable signals a conditional status transition that matched no
	// row: the record is terminal, mid-flight, or was claimed concurrently.
	ErrNotClaimable = errors.New("delivery not claimable")
)

// SubscriptionStore is the durable home of subscriber registrations.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *domain.Subscription) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	List(ctx context.Context) ([]domain.Subscription, error)
	Update(ctx context.Context, sub *domain.Subscription) error
	// Delete removes the subscription and every delivery that references it.
	Delete(ctx context.Context, id uuid.UUID) error
}

// FailureRecord carries everything one failed attempt writes in a single
// atomic update.
type FailureRecord struct {
	ResponseStatus *int       // nil when no HTTP response was received
	ResponseBody   string     // truncated to domain.MaxResponseBodyLen
	ErrorMessage   string     // truncated to domain.MaxErrorMessageLen
	NextRetry      *time.Time // nil iff the delivery is abandoned
	Exhausted      bool       // true transitions to max_retries_exceeded
}

// SubscriptionStats summarizes delivery outcomes for one subscription.
type SubscriptionStats struct {
	TotalCount  int     `json:"total_count"`
	SuccessRate float64 `json:"success_rate"` // percent of deliveries delivered
}

// DeliveryStore owns the delivery lifecycle. All status transitions are
// conditional updates guarded by the expected current status, so two
// processes can never run the same attempt concurrently.
type DeliveryStore interface {
	Create(ctx context.Context, subscriptionID uuid.UUID, eventType string, payload json.RawMessage) (*domain.Delivery, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Delivery, error)

	// ClaimAttempt transitions pending -> in_progress, increments the retry
	// count and stamps last_attempt, returning the claimed row. Returns
	// ErrNotClaimable if the row is not pending or the retry budget is spent.
	ClaimAttempt(ctx context.Context, id uuid.UUID, maxRetries int) (*domain.Delivery, error)

	// MarkDelivered transitions in_progress -> delivered with the response.
	MarkDelivered(ctx context.Context, id uuid.UUID, responseStatus int, responseBody string) error

	// MarkFailed transitions in_progress -> failed (or max_retries_exceeded
	// when rec.Exhausted) carrying the full failure record atomically.
	MarkFailed(ctx context.Context, id uuid.UUID, rec FailureRecord) error

	// ClaimRetry transitions failed -> pending for a due delivery. False
	// means another scheduler claimed it first or it is no longer due.
	ClaimRetry(ctx context.Context, id uuid.UUID, maxRetries int) (bool, error)

	// DueRetries lists failed deliveries whose next_retry has passed and
	// whose retry budget is not spent.
	DueRetries(ctx context.Context, now time.Time, maxRetries, limit int) ([]domain.Delivery, error)

	// StalePending lists pending deliveries older than minAge whose immediate
	// dispatch never ran.
	StalePending(ctx context.Context, minAge time.Duration, limit int) ([]domain.Delivery, error)

	// History returns all deliveries sharing the subscription and event type
	// of the given delivery, oldest first.
	History(ctx context.Context, id uuid.UUID) ([]domain.Delivery, error)

	// RecentForSubscription returns up to limit newest deliveries for a
	// subscription plus aggregate stats.
	RecentForSubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]domain.Delivery, SubscriptionStats, error)

	// ListDead returns deliveries abandoned in max_retries_exceeded.
	ListDead(ctx context.Context, limit int) ([]domain.Delivery, error)

	// DeleteOlderThan removes deliveries created before cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
