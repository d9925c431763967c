package retry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/why-aditi/webhook-delivery-service/internal/logging"
	"github.com/why-aditi/webhook-delivery-service/internal/store"
)

// Attempter runs one delivery attempt. Implemented by delivery.Dispatcher.
type Attempter interface {
	Attempt(ctx context.Context, id uuid.UUID) error
}

// Scheduler is the background loop that moves deliveries through their retry
// schedule: it polls for failed deliveries whose next_retry has passed,
// claims each one back to pending, and hands it to the dispatcher. It also
// sweeps pending deliveries whose immediate dispatch never ran and prunes
// delivery rows past the retention window.
type Scheduler struct {
	deliveries store.DeliveryStore
	attempter  Attempter
	logger     *logging.Logger

	maxRetries      int
	pollInterval    time.Duration
	pendingMinAge   time.Duration
	retention       time.Duration
	cleanupInterval time.Duration
	batchSize       int
}

func NewScheduler(deliveries store.DeliveryStore, attempter Attempter, maxRetries int, pollInterval time.Duration, logger *logging.Logger) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Scheduler{
		deliveries:      deliveries,
		attempter:       attempter,
		logger:          logger,
		maxRetries:      maxRetries,
		pollInterval:    pollInterval,
		pendingMinAge:   30 * time.Second,
		retention:       30 * 24 * time.Hour,
		cleanupInterval: time.Hour,
		batchSize:       50,
	}
}

// WithPendingSweep sets the minimum age before an untouched pending delivery
// is picked up by the poll loop.
func (s *Scheduler) WithPendingSweep(minAge time.Duration) *Scheduler {
	s.pendingMinAge = minAge
	return s
}

// WithRetention sets how long finished delivery rows are kept.
func (s *Scheduler) WithRetention(retention time.Duration) *Scheduler {
	s.retention = retention
	return s
}

// Start runs the polling loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(s.cleanupInterval)
	defer cleanup.Stop()

	s.logger.Plain().WithFields(map[string]any{
		"max_retries":   s.maxRetries,
		"poll_interval": s.pollInterval.String(),
	}).Info("retry scheduler started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Plain().Info("retry scheduler shutting down")
			return
		case <-ticker.C:
			s.Tick(ctx)
		case <-cleanup.C:
			s.cleanupExpired(ctx)
		}
	}
}

// Tick runs one poll cycle: due retries first, then the pending sweep.
// An error on one delivery never blocks the rest of the batch.
func (s *Scheduler) Tick(ctx context.Context) {
	s.processDueRetries(ctx)
	s.sweepStalePending(ctx)
}

func (s *Scheduler) processDueRetries(ctx context.Context) {
	due, err := s.deliveries.DueRetries(ctx, time.Now(), s.maxRetries, s.batchSize)
	if err != nil {
		s.logger.Plain().WithError(err).Error("scheduler failed to fetch due retries")
		return
	}

	for _, d := range due {
		log := s.logger.Plain().WithDelivery(d.ID.String()).WithSubscription(d.SubscriptionID.String())

		claimed, err := s.deliveries.ClaimRetry(ctx, d.ID, s.maxRetries)
		if err != nil {
			log.WithError(err).Error("retry claim failed")
			continue
		}
		if !claimed {
			// Another scheduler got there first.
			continue
		}
		log.WithField("attempt", d.RetryCount+1).Info("retrying delivery")
		s.dispatch(ctx, d.ID, log)
	}
}

func (s *Scheduler) sweepStalePending(ctx context.Context) {
	stale, err := s.deliveries.StalePending(ctx, s.pendingMinAge, s.batchSize)
	if err != nil {
		s.logger.Plain().WithError(err).Error("scheduler failed to fetch stale pending deliveries")
		return
	}
	for _, d := range stale {
		log := s.logger.Plain().WithDelivery(d.ID.String()).WithSubscription(d.SubscriptionID.String())
		log.Info("dispatching stale pending delivery")
		s.dispatch(ctx, d.ID, log)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, id uuid.UUID, log *logging.LogEntry) {
	if err := s.attempter.Attempt(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotClaimable) {
			return
		}
		log.WithError(err).Error("delivery attempt failed to run")
	}
}

func (s *Scheduler) cleanupExpired(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	n, err := s.deliveries.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Plain().WithError(err).Error("delivery retention cleanup failed")
		return
	}
	if n > 0 {
		s.logger.Plain().WithField("deleted", n).Info("pruned expired deliveries")
	}
}
