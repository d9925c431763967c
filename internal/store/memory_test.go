package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/why-aditi/webhook-delivery-service/internal/domain"
)

func newTestDelivery(t *testing.T, ds *MemoryDeliveryStore) *domain.Delivery {
	t.Helper()
	d, err := ds.Create(context.Background(), uuid.New(), "order.created", json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return d
}

func TestClaimAttemptTransitionsPendingToInProgress(t *testing.T) {
	ds := NewMemoryDeliveryStore()
	d := newTestDelivery(t, ds)

	claimed, err := ds.ClaimAttempt(context.Background(), d.ID, 5)
	if err != nil {
		t.Fatalf("ClaimAttempt: %v", err)
	}
	if claimed.Status != domain.StatusInProgress {
		t.Errorf("status = %s, want in_progress", claimed.Status)
	}
	if claimed.RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", claimed.RetryCount)
	}
	if claimed.LastAttempt == nil {
		t.Error("last_attempt not stamped")
	}
}

func TestClaimAttemptRejectsNonPending(t *testing.T) {
	ctx := context.Background()
	ds := NewMemoryDeliveryStore()
	d := newTestDelivery(t, ds)

	if _, err := ds.ClaimAttempt(ctx, d.ID, 5); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	// Second claim while in_progress must fail: at-most-one attempt runs.
	if _, err := ds.ClaimAttempt(ctx, d.ID, 5); err != ErrNotClaimable {
		t.Errorf("second claim error = %v, want ErrNotClaimable", err)
	}

	if err := ds.MarkDelivered(ctx, d.ID, 200, "ok"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	// Terminal rows are never claimable.
	if _, err := ds.ClaimAttempt(ctx, d.ID, 5); err != ErrNotClaimable {
		t.Errorf("claim after delivered error = %v, want ErrNotClaimable", err)
	}
	got, _ := ds.Get(ctx, d.ID)
	if got.Status != domain.StatusDelivered || got.RetryCount != 1 {
		t.Errorf("terminal row mutated: status=%s retry_count=%d", got.Status, got.RetryCount)
	}
}

func TestClaimAttemptRespectsRetryBudget(t *testing.T) {
	ds := NewMemoryDeliveryStore()
	d := newTestDelivery(t, ds)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	for i := 0; i < 3; i++ {
		if _, err := ds.ClaimAttempt(ctx, d.ID, 3); err != nil {
			t.Fatalf("claim %d: %v", i+1, err)
		}
		if err := ds.MarkFailed(ctx, d.ID, FailureRecord{ErrorMessage: "boom", NextRetry: &past, Exhausted: i == 2}); err != nil {
			t.Fatalf("fail %d: %v", i+1, err)
		}
		ds.ClaimRetry(ctx, d.ID, 3)
	}

	got, _ := ds.Get(ctx, d.ID)
	if got.RetryCount != 3 {
		t.Errorf("retry_count = %d, want 3", got.RetryCount)
	}
	if got.Status != domain.StatusMaxRetriesExceeded {
		t.Errorf("status = %s, want max_retries_exceeded", got.Status)
	}
	if got.NextRetry != nil {
		t.Errorf("next_retry = %v, want nil", got.NextRetry)
	}
	if _, err := ds.ClaimAttempt(ctx, d.ID, 3); err != ErrNotClaimable {
		t.Errorf("claim past budget error = %v, want ErrNotClaimable", err)
	}
}

func TestMarkFailedStoresFailureRecordAtomically(t *testing.T) {
	ds := NewMemoryDeliveryStore()
	d := newTestDelivery(t, ds)
	ctx := context.Background()

	if _, err := ds.ClaimAttempt(ctx, d.ID, 5); err != nil {
		t.Fatalf("ClaimAttempt: %v", err)
	}
	code := 503
	next := time.Now().Add(10 * time.Second)
	err := ds.MarkFailed(ctx, d.ID, FailureRecord{
		ResponseStatus: &code,
		ResponseBody:   "service unavailable",
		ErrorMessage:   "endpoint returned HTTP 503",
		NextRetry:      &next,
	})
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, _ := ds.Get(ctx, d.ID)
	if got.Status != domain.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.ResponseStatus == nil || *got.ResponseStatus != 503 {
		t.Errorf("response_status = %v, want 503", got.ResponseStatus)
	}
	if got.ErrorMessage != "endpoint returned HTTP 503" {
		t.Errorf("error_message = %q", got.ErrorMessage)
	}
	if got.NextRetry == nil {
		t.Error("next_retry not set for retryable failure")
	}
}

func TestClaimRetryOnlyWhenDue(t *testing.T) {
	ds := NewMemoryDeliveryStore()
	d := newTestDelivery(t, ds)
	ctx := context.Background()

	ds.ClaimAttempt(ctx, d.ID, 5)
	future := time.Now().Add(time.Hour)
	ds.MarkFailed(ctx, d.ID, FailureRecord{ErrorMessage: "x", NextRetry: &future})

	ok, err := ds.ClaimRetry(ctx, d.ID, 5)
	if err != nil {
		t.Fatalf("ClaimRetry: %v", err)
	}
	if ok {
		t.Error("claimed a retry that is not yet due")
	}

	past := time.Now().Add(-time.Second)
	ds.mu.Lock()
	row := ds.deliveries[d.ID]
	row.NextRetry = &past
	ds.deliveries[d.ID] = row
	ds.mu.Unlock()

	ok, err = ds.ClaimRetry(ctx, d.ID, 5)
	if err != nil {
		t.Fatalf("ClaimRetry: %v", err)
	}
	if !ok {
		t.Error("expected due retry to be claimed")
	}
	got, _ := ds.Get(ctx, d.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("status after retry claim = %s, want pending", got.Status)
	}
}

// next_retry belongs only on a failed row with budget left; both claim
// transitions must clear it so a crash mid-hop cannot strand a pending or
// in_progress row advertising a stale due time.
func TestClaimHopsClearNextRetry(t *testing.T) {
	ds := NewMemoryDeliveryStore()
	d := newTestDelivery(t, ds)
	ctx := context.Background()

	if _, err := ds.ClaimAttempt(ctx, d.ID, 5); err != nil {
		t.Fatalf("ClaimAttempt: %v", err)
	}
	past := time.Now().Add(-time.Second)
	if err := ds.MarkFailed(ctx, d.ID, FailureRecord{ErrorMessage: "x", NextRetry: &past}); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	ok, err := ds.ClaimRetry(ctx, d.ID, 5)
	if err != nil || !ok {
		t.Fatalf("ClaimRetry: ok=%v err=%v", ok, err)
	}
	got, _ := ds.Get(ctx, d.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.NextRetry != nil {
		t.Errorf("pending row carries next_retry %v, want cleared", got.NextRetry)
	}

	claimed, err := ds.ClaimAttempt(ctx, d.ID, 5)
	if err != nil {
		t.Fatalf("ClaimAttempt: %v", err)
	}
	if claimed.NextRetry != nil {
		t.Errorf("in_progress row carries next_retry %v, want cleared", claimed.NextRetry)
	}
}

func TestDueRetriesSelection(t *testing.T) {
	ds := NewMemoryDeliveryStore()
	ctx := context.Background()

	due := newTestDelivery(t, ds)
	ds.ClaimAttempt(ctx, due.ID, 5)
	past := time.Now().Add(-time.Minute)
	ds.MarkFailed(ctx, due.ID, FailureRecord{ErrorMessage: "x", NextRetry: &past})

	notDue := newTestDelivery(t, ds)
	ds.ClaimAttempt(ctx, notDue.ID, 5)
	future := time.Now().Add(time.Hour)
	ds.MarkFailed(ctx, notDue.ID, FailureRecord{ErrorMessage: "x", NextRetry: &future})

	pending := newTestDelivery(t, ds)
	_ = pending

	got, err := ds.DueRetries(ctx, time.Now(), 5, 100)
	if err != nil {
		t.Fatalf("DueRetries: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Errorf("DueRetries returned %d rows, want exactly the due one", len(got))
	}
}

func TestRecentForSubscriptionStats(t *testing.T) {
	ds := NewMemoryDeliveryStore()
	ctx := context.Background()
	subID := uuid.New()

	for i := 0; i < 4; i++ {
		d, _ := ds.Create(ctx, subID, "order.created", json.RawMessage(`{}`))
		ds.ClaimAttempt(ctx, d.ID, 5)
		if i < 3 {
			ds.MarkDelivered(ctx, d.ID, 200, "ok")
		} else {
			ds.MarkFailed(ctx, d.ID, FailureRecord{ErrorMessage: "x", Exhausted: true})
		}
	}

	recent, stats, err := ds.RecentForSubscription(ctx, subID, 2)
	if err != nil {
		t.Fatalf("RecentForSubscription: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("recent len = %d, want 2 (limit)", len(recent))
	}
	if stats.TotalCount != 4 {
		t.Errorf("total = %d, want 4", stats.TotalCount)
	}
	if stats.SuccessRate != 75 {
		t.Errorf("success rate = %v, want 75", stats.SuccessRate)
	}
}

func TestDeleteOlderThan(t *testing.T) {
	ds := NewMemoryDeliveryStore()
	ctx := context.Background()

	old := newTestDelivery(t, ds)
	ds.mu.Lock()
	row := ds.deliveries[old.ID]
	row.CreatedAt = time.Now().Add(-48 * time.Hour)
	ds.deliveries[old.ID] = row
	ds.mu.Unlock()

	fresh := newTestDelivery(t, ds)

	n, err := ds.DeleteOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteOlderThan: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d rows, want 1", n)
	}
	if _, err := ds.Get(ctx, old.ID); err != ErrNotFound {
		t.Error("old delivery still present")
	}
	if _, err := ds.Get(ctx, fresh.ID); err != nil {
		t.Error("fresh delivery was deleted")
	}
}

func TestSubscriptionDeleteCascades(t *testing.T) {
	ds := NewMemoryDeliveryStore()
	ss := NewMemorySubscriptionStore().WithDeliveries(ds)
	ctx := context.Background()

	sub := &domain.Subscription{TargetURL: "https://example.com/hook", EventTypes: []string{"a"}}
	if err := ss.Create(ctx, sub); err != nil {
		t.Fatalf("Create: %v", err)
	}
	d, _ := ds.Create(ctx, sub.ID, "a", json.RawMessage(`{}`))

	if err := ss.Delete(ctx, sub.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := ss.Get(ctx, sub.ID); err != ErrNotFound {
		t.Error("subscription still present")
	}
	if _, err := ds.Get(ctx, d.ID); err != ErrNotFound {
		t.Error("delivery not cascaded")
	}
}
