package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/why-aditi/webhook-delivery-service/internal/domain"
)

// MemorySubscriptionStore is a mutex-guarded SubscriptionStore for tests and
// local development.
type MemorySubscriptionStore struct {
	mu   sync.Mutex
	subs map[uuid.UUID]domain.Subscription

	deliveries *MemoryDeliveryStore // optional, for cascading deletes
}

func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[uuid.UUID]domain.Subscription)}
}

// WithDeliveries links a delivery store so Delete cascades like the SQL
// implementation does.
func (s *MemorySubscriptionStore) WithDeliveries(d *MemoryDeliveryStore) *MemorySubscriptionStore {
	s.deliveries = d
	return s
}

func (s *MemorySubscriptionStore) Create(_ context.Context, sub *domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	s.subs[sub.ID] = *sub
	return nil
}

func (s *MemorySubscriptionStore) Get(_ context.Context, id uuid.UUID) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := sub
	return &out, nil
}

func (s *MemorySubscriptionStore) List(_ context.Context) ([]domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemorySubscriptionStore) Update(_ context.Context, sub *domain.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.subs[sub.ID]
	if !ok {
		return ErrNotFound
	}
	sub.CreatedAt = existing.CreatedAt
	sub.UpdatedAt = time.Now().UTC()
	s.subs[sub.ID] = *sub
	return nil
}

func (s *MemorySubscriptionStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	if _, ok := s.subs[id]; !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.subs, id)
	s.mu.Unlock()

	if s.deliveries != nil {
		s.deliveries.deleteForSubscription(id)
	}
	return nil
}

// MemoryDeliveryStore is a mutex-guarded DeliveryStore implementing the same
// conditional-transition semantics as the SQL store.
type MemoryDeliveryStore struct {
	mu         sync.Mutex
	deliveries map[uuid.UUID]domain.Delivery
}

func NewMemoryDeliveryStore() *MemoryDeliveryStore {
	return &MemoryDeliveryStore{deliveries: make(map[uuid.UUID]domain.Delivery)}
}

func (s *MemoryDeliveryStore) Create(_ context.Context, subscriptionID uuid.UUID, eventType string, payload json.RawMessage) (*domain.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	d := domain.Delivery{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		Payload:        payload,
		Status:         domain.StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.deliveries[d.ID] = d
	out := d
	return &out, nil
}

func (s *MemoryDeliveryStore) Get(_ context.Context, id uuid.UUID) (*domain.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := d
	return &out, nil
}

func (s *MemoryDeliveryStore) ClaimAttempt(_ context.Context, id uuid.UUID, maxRetries int) (*domain.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok || !d.Status.CanTransitionTo(domain.StatusInProgress) || d.RetryCount >= maxRetries {
		return nil, ErrNotClaimable
	}
	now := time.Now().UTC()
	d.Status = domain.StatusInProgress
	d.RetryCount++
	d.LastAttempt = &now
	d.NextRetry = nil
	d.UpdatedAt = now
	s.deliveries[id] = d
	out := d
	return &out, nil
}

func (s *MemoryDeliveryStore) MarkDelivered(_ context.Context, id uuid.UUID, responseStatus int, responseBody string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok || !d.Status.CanTransitionTo(domain.StatusDelivered) {
		return ErrNotClaimable
	}
	d.Status = domain.StatusDelivered
	d.ResponseStatus = &responseStatus
	d.ResponseBody = domain.TruncateBody(responseBody)
	d.ErrorMessage = ""
	d.NextRetry = nil
	d.UpdatedAt = time.Now().UTC()
	s.deliveries[id] = d
	return nil
}

func (s *MemoryDeliveryStore) MarkFailed(_ context.Context, id uuid.UUID, rec FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok || d.Status != domain.StatusInProgress {
		return ErrNotClaimable
	}
	if rec.Exhausted {
		d.Status = domain.StatusMaxRetriesExceeded
		d.NextRetry = nil
	} else {
		d.Status = domain.StatusFailed
		d.NextRetry = rec.NextRetry
	}
	d.ResponseStatus = rec.ResponseStatus
	d.ResponseBody = domain.TruncateBody(rec.ResponseBody)
	d.ErrorMessage = domain.TruncateError(rec.ErrorMessage)
	d.UpdatedAt = time.Now().UTC()
	s.deliveries[id] = d
	return nil
}

func (s *MemoryDeliveryStore) ClaimRetry(_ context.Context, id uuid.UUID, maxRetries int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deliveries[id]
	if !ok || !d.Status.CanTransitionTo(domain.StatusPending) || d.RetryCount >= maxRetries {
		return false, nil
	}
	if d.NextRetry == nil || d.NextRetry.After(time.Now()) {
		return false, nil
	}
	d.Status = domain.StatusPending
	d.NextRetry = nil
	d.UpdatedAt = time.Now().UTC()
	s.deliveries[id] = d
	return true, nil
}

func (s *MemoryDeliveryStore) DueRetries(_ context.Context, now time.Time, maxRetries, limit int) ([]domain.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Delivery
	for _, d := range s.deliveries {
		if d.Status == domain.StatusFailed && d.RetryCount < maxRetries &&
			d.NextRetry != nil && !d.NextRetry.After(now) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRetry.Before(*out[j].NextRetry) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryDeliveryStore) StalePending(_ context.Context, minAge time.Duration, limit int) ([]domain.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-minAge)
	var out []domain.Delivery
	for _, d := range s.deliveries {
		if d.Status == domain.StatusPending && d.LastAttempt == nil && d.CreatedAt.Before(cutoff) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryDeliveryStore) History(ctx context.Context, id uuid.UUID) ([]domain.Delivery, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Delivery
	for _, cand := range s.deliveries {
		if cand.SubscriptionID == d.SubscriptionID && cand.EventType == d.EventType {
			out = append(out, cand)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryDeliveryStore) RecentForSubscription(_ context.Context, subscriptionID uuid.UUID, limit int) ([]domain.Delivery, SubscriptionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []domain.Delivery
	var successful int
	for _, d := range s.deliveries {
		if d.SubscriptionID == subscriptionID {
			all = append(all, d)
			if d.Status == domain.StatusDelivered {
				successful++
			}
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	stats := SubscriptionStats{TotalCount: len(all)}
	if stats.TotalCount > 0 {
		stats.SuccessRate = float64(successful) / float64(stats.TotalCount) * 100
	}
	if len(all) > limit {
		all = all[:limit]
	}
	return all, stats, nil
}

func (s *MemoryDeliveryStore) ListDead(_ context.Context, limit int) ([]domain.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Delivery
	for _, d := range s.deliveries {
		if d.Status == domain.StatusMaxRetriesExceeded {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryDeliveryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, d := range s.deliveries {
		if d.CreatedAt.Before(cutoff) {
			delete(s.deliveries, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryDeliveryStore) deleteForSubscription(subscriptionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.deliveries {
		if d.SubscriptionID == subscriptionID {
			delete(s.deliveries, id)
		}
	}
}
