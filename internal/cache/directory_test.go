package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/why-aditi/webhook-delivery-service/internal/domain"
	"github.com/why-aditi/webhook-delivery-service/internal/logging"
	"github.com/why-aditi/webhook-delivery-service/internal/store"
)

func testDirectory(t *testing.T) (*Directory, *miniredis.Miniredis, *store.MemorySubscriptionStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	subs := store.NewMemorySubscriptionStore()
	logger := logging.NewWithWriter("cache-test", io.Discard)
	d := NewDirectory(context.Background(), client, subs, time.Hour, logger)
	if !d.Enabled() {
		t.Fatal("directory should be enabled against a live server")
	}
	return d, mr, subs
}

func seedSubscription(t *testing.T, subs *store.MemorySubscriptionStore) *domain.Subscription {
	t.Helper()
	sub := &domain.Subscription{
		TargetURL:  "https://example.com/hook",
		Secret:     "s3cret",
		EventTypes: []string{"order.created"},
	}
	if err := subs.Create(context.Background(), sub); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return sub
}

func TestGetMissPopulatesCache(t *testing.T) {
	d, mr, subs := testDirectory(t)
	sub := seedSubscription(t, subs)
	ctx := context.Background()

	got, err := d.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TargetURL != sub.TargetURL || got.Secret != sub.Secret {
		t.Errorf("resolved subscription mismatch: %+v", got)
	}
	if !mr.Exists("subscription:" + sub.ID.String()) {
		t.Error("miss did not populate the cache")
	}
	ttl := mr.TTL("subscription:" + sub.ID.String())
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("cache TTL = %v, want (0, 1h]", ttl)
	}
}

func TestGetHitSkipsStorage(t *testing.T) {
	d, _, subs := testDirectory(t)
	sub := seedSubscription(t, subs)
	ctx := context.Background()

	if _, err := d.Get(ctx, sub.ID); err != nil {
		t.Fatalf("warm: %v", err)
	}
	// Remove the durable row: a hit must still resolve.
	if err := subs.Delete(ctx, sub.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := d.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get after storage delete: %v", err)
	}
	if got.TargetURL != sub.TargetURL {
		t.Errorf("target_url = %q, want %q", got.TargetURL, sub.TargetURL)
	}
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	d, _, _ := testDirectory(t)

	_, err := d.Get(context.Background(), uuid.New())
	if err != store.ErrNotFound {
		t.Errorf("err = %v, want store.ErrNotFound", err)
	}
}

func TestInvalidateForcesStorageRead(t *testing.T) {
	d, mr, subs := testDirectory(t)
	sub := seedSubscription(t, subs)
	ctx := context.Background()

	if _, err := d.Get(ctx, sub.ID); err != nil {
		t.Fatalf("warm: %v", err)
	}
	d.Invalidate(ctx, sub.ID)
	if mr.Exists("subscription:" + sub.ID.String()) {
		t.Error("entry survived invalidation")
	}

	sub.TargetURL = "https://example.com/hook-v2"
	if err := subs.Update(ctx, sub); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := d.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TargetURL != "https://example.com/hook-v2" {
		t.Errorf("stale target_url %q after invalidation", got.TargetURL)
	}
}

func TestPutOverwritesEntry(t *testing.T) {
	d, _, subs := testDirectory(t)
	sub := seedSubscription(t, subs)
	ctx := context.Background()

	if _, err := d.Get(ctx, sub.ID); err != nil {
		t.Fatalf("warm: %v", err)
	}
	sub.TargetURL = "https://example.com/updated"
	d.Put(ctx, sub)

	got, err := d.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TargetURL != "https://example.com/updated" {
		t.Errorf("target_url = %q, want updated value", got.TargetURL)
	}
}

func TestCorruptEntryFallsBackToStorage(t *testing.T) {
	d, mr, subs := testDirectory(t)
	sub := seedSubscription(t, subs)
	ctx := context.Background()

	mr.Set("subscription:"+sub.ID.String(), "{not json")

	got, err := d.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.TargetURL != sub.TargetURL {
		t.Errorf("target_url = %q, want %q", got.TargetURL, sub.TargetURL)
	}
}

func TestUnreachableServerDisablesCache(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	client := goredis.NewClient(&goredis.Options{Addr: addr})
	subs := store.NewMemorySubscriptionStore()
	logger := logging.NewWithWriter("cache-test", io.Discard)
	d := NewDirectory(context.Background(), client, subs, time.Hour, logger)
	if d.Enabled() {
		t.Fatal("directory should be disabled when the ping fails")
	}

	sub := seedSubscription(t, subs)
	got, err := d.Get(context.Background(), sub.ID)
	if err != nil {
		t.Fatalf("pass-through Get: %v", err)
	}
	if got.TargetURL != sub.TargetURL {
		t.Errorf("target_url = %q, want %q", got.TargetURL, sub.TargetURL)
	}
}
