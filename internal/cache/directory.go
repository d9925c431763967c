package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/why-aditi/webhook-delivery-service/internal/domain"
	"github.com/why-aditi/webhook-delivery-service/internal/logging"
	"github.com/why-aditi/webhook-delivery-service/internal/store"
)

// DefaultTTL is how long a cached subscription stays valid without a write.
const DefaultTTL = time.Hour

// cachedSubscription is the subset of a subscription the delivery path needs.
type cachedSubscription struct {
	ID         uuid.UUID `json:"id"`
	TargetURL  string    `json:"target_url"`
	Secret     string    `json:"secret,omitempty"`
	EventTypes []string  `json:"event_types"`
}

func subscriptionKey(id uuid.UUID) string {
	return fmt.Sprintf("subscription:%s", id.String())
}

// Directory is the read-through subscriber cache. A cache hit never touches
// durable storage; a miss falls back to the SubscriptionStore and repopulates
// the cache with a TTL. Cache unavailability never fails a caller: if the
// initial ping fails the Directory runs as a pass-through to storage, logged
// once at construction rather than per call.
type Directory struct {
	client *goredis.Client // nil when the cache is disabled
	store  store.SubscriptionStore
	ttl    time.Duration
	logger *logging.Logger
}

// NewDirectory builds a Directory backed by client and subs. A nil client or
// a failed ping disables caching.
func NewDirectory(ctx context.Context, client *goredis.Client, subs store.SubscriptionStore, ttl time.Duration, logger *logging.Logger) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	d := &Directory{client: client, store: subs, ttl: ttl, logger: logger}
	if client == nil {
		logger.Plain().Warn("subscription cache disabled: no redis client configured")
		d.client = nil
		return d
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Plain().WithError(err).Warn("subscription cache unavailable, falling back to storage")
		d.client = nil
	}
	return d
}

// Enabled reports whether the Redis layer is in use.
func (d *Directory) Enabled() bool {
	return d.client != nil
}

// Get resolves a subscription, consulting the cache first. Storage misses
// surface as store.ErrNotFound; cache errors are treated as misses.
func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	if d.client != nil {
		data, err := d.client.Get(ctx, subscriptionKey(id)).Result()
		if err == nil {
			var cached cachedSubscription
			if err := json.Unmarshal([]byte(data), &cached); err == nil {
				return &domain.Subscription{
					ID:         cached.ID,
					TargetURL:  cached.TargetURL,
					Secret:     cached.Secret,
					EventTypes: cached.EventTypes,
				}, nil
			}
			// Unreadable entry: drop it and fall through to storage.
			d.client.Del(ctx, subscriptionKey(id))
		} else if err != goredis.Nil {
			d.logger.Plain().WithSubscription(id.String()).WithError(err).Debug("cache read failed, using storage")
		}
	}

	sub, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Put(ctx, sub)
	return sub, nil
}

// Put (over)writes the cache entry for sub, used right after a create or
// update so the next read observes the write. Best effort.
func (d *Directory) Put(ctx context.Context, sub *domain.Subscription) {
	if d.client == nil {
		return
	}
	data, err := json.Marshal(cachedSubscription{
		ID:         sub.ID,
		TargetURL:  sub.TargetURL,
		Secret:     sub.Secret,
		EventTypes: sub.EventTypes,
	})
	if err != nil {
		return
	}
	if err := d.client.Set(ctx, subscriptionKey(sub.ID), data, d.ttl).Err(); err != nil {
		d.logger.Plain().WithSubscription(sub.ID.String()).WithError(err).Debug("cache write failed")
	}
}

// Invalidate removes any cached entry for id. Best effort.
func (d *Directory) Invalidate(ctx context.Context, id uuid.UUID) {
	if d.client == nil {
		return
	}
	if err := d.client.Del(ctx, subscriptionKey(id)).Err(); err != nil {
		d.logger.Plain().WithSubscription(id.String()).WithError(err).Debug("cache invalidation failed")
	}
}
