package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/why-aditi/webhook-delivery-service/internal/domain"
)

// PostgresSubscriptionStore implements SubscriptionStore on pgx.
type PostgresSubscriptionStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSubscriptionStore(pool *pgxpool.Pool) *PostgresSubscriptionStore {
	return &PostgresSubscriptionStore{pool: pool}
}

func (s *PostgresSubscriptionStore) Create(ctx context.Context, sub *domain.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (id, target_url, secret, event_types)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		sub.ID, sub.TargetURL, sub.Secret, sub.EventTypes,
	).Scan(&sub.CreatedAt, &sub.UpdatedAt)
}

func (s *PostgresSubscriptionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	var sub domain.Subscription
	err := s.pool.QueryRow(ctx, `
		SELECT id, target_url, COALESCE(secret, ''), event_types, created_at, updated_at
		FROM subscriptions WHERE id = $1`, id,
	).Scan(&sub.ID, &sub.TargetURL, &sub.Secret, &sub.EventTypes, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return &sub, nil
}

func (s *PostgresSubscriptionStore) List(ctx context.Context) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, target_url, COALESCE(secret, ''), event_types, created_at, updated_at
		FROM subscriptions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []domain.Subscription
	for rows.Next() {
		var sub domain.Subscription
		if err := rows.Scan(&sub.ID, &sub.TargetURL, &sub.Secret, &sub.EventTypes, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *PostgresSubscriptionStore) Update(ctx context.Context, sub *domain.Subscription) error {
	err := s.pool.QueryRow(ctx, `
		UPDATE subscriptions
		SET target_url = $2, secret = $3, event_types = $4, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`,
		sub.ID, sub.TargetURL, sub.Secret, sub.EventTypes,
	).Scan(&sub.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresSubscriptionStore) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM webhook_deliveries WHERE subscription_id = $1`, id); err != nil {
		return fmt.Errorf("delete deliveries: %w", err)
	}
	ct, err := tx.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// PostgresDeliveryStore implements DeliveryStore on pgx.
type PostgresDeliveryStore struct {
	pool *pgxpool.Pool
}

func NewPostgresDeliveryStore(pool *pgxpool.Pool) *PostgresDeliveryStore {
	return &PostgresDeliveryStore{pool: pool}
}

const deliveryColumns = `id, subscription_id, event_type, payload, status, retry_count,
	last_attempt, next_retry, response_status, COALESCE(response_body, ''),
	COALESCE(error_message, ''), created_at, updated_at`

func scanDelivery(row pgx.Row) (*domain.Delivery, error) {
	var d domain.Delivery
	var payload []byte
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &payload, &d.Status, &d.RetryCount,
		&d.LastAttempt, &d.NextRetry, &d.ResponseStatus, &d.ResponseBody,
		&d.ErrorMessage, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Payload = json.RawMessage(payload)
	return &d, nil
}

func (s *PostgresDeliveryStore) Create(ctx context.Context, subscriptionID uuid.UUID, eventType string, payload json.RawMessage) (*domain.Delivery, error) {
	d := &domain.Delivery{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		Payload:        payload,
		Status:         domain.StatusPending,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, event_type, payload, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING created_at, updated_at`,
		d.ID, d.SubscriptionID, d.EventType, []byte(d.Payload),
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create delivery: %w", err)
	}
	return d, nil
}

func (s *PostgresDeliveryStore) Get(ctx context.Context, id uuid.UUID) (*domain.Delivery, error) {
	d, err := scanDelivery(s.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

// ClaimAttempt is the concurrency gate: the WHERE clause only matches a
// pending row with budget left, so concurrent dispatchers cannot both claim.
func (s *PostgresDeliveryStore) ClaimAttempt(ctx context.Context, id uuid.UUID, maxRetries int) (*domain.Delivery, error) {
	d, err := scanDelivery(s.pool.QueryRow(ctx, `
		UPDATE webhook_deliveries
		SET status = 'in_progress', retry_count = retry_count + 1,
		    last_attempt = now(), next_retry = NULL, updated_at = now()
		WHERE id = $1 AND status = 'pending' AND retry_count < $2
		RETURNING `+deliveryColumns,
		id, maxRetries))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotClaimable
	}
	if err != nil {
		return nil, fmt.Errorf("claim attempt: %w", err)
	}
	return d, nil
}

func (s *PostgresDeliveryStore) MarkDelivered(ctx context.Context, id uuid.UUID, responseStatus int, responseBody string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'delivered', response_status = $2, response_body = $3,
		    error_message = NULL, next_retry = NULL, updated_at = now()
		WHERE id = $1 AND status = 'in_progress'`,
		id, responseStatus, domain.TruncateBody(responseBody))
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotClaimable
	}
	return nil
}

func (s *PostgresDeliveryStore) MarkFailed(ctx context.Context, id uuid.UUID, rec FailureRecord) error {
	status := domain.StatusFailed
	if rec.Exhausted {
		status = domain.StatusMaxRetriesExceeded
		rec.NextRetry = nil
	}
	ct, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, response_status = $3, response_body = $4,
		    error_message = $5, next_retry = $6, updated_at = now()
		WHERE id = $1 AND status = 'in_progress'`,
		id, status, rec.ResponseStatus,
		domain.TruncateBody(rec.ResponseBody), domain.TruncateError(rec.ErrorMessage),
		rec.NextRetry)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotClaimable
	}
	return nil
}

func (s *PostgresDeliveryStore) ClaimRetry(ctx context.Context, id uuid.UUID, maxRetries int) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = 'pending', next_retry = NULL, updated_at = now()
		WHERE id = $1 AND status = 'failed' AND retry_count < $2 AND next_retry <= now()`,
		id, maxRetries)
	if err != nil {
		return false, fmt.Errorf("claim retry: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (s *PostgresDeliveryStore) DueRetries(ctx context.Context, now time.Time, maxRetries, limit int) ([]domain.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE status = 'failed' AND retry_count < $1 AND next_retry <= $2
		ORDER BY next_retry
		LIMIT $3`,
		maxRetries, now, limit)
	if err != nil {
		return nil, fmt.Errorf("due retries: %w", err)
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

func (s *PostgresDeliveryStore) StalePending(ctx context.Context, minAge time.Duration, limit int) ([]domain.Delivery, error) {
	cutoff := time.Now().Add(-minAge)
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE status = 'pending' AND last_attempt IS NULL AND created_at < $1
		ORDER BY created_at
		LIMIT $2`,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("stale pending: %w", err)
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

func (s *PostgresDeliveryStore) History(ctx context.Context, id uuid.UUID) ([]domain.Delivery, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE subscription_id = $1 AND event_type = $2
		ORDER BY created_at`,
		d.SubscriptionID, d.EventType)
	if err != nil {
		return nil, fmt.Errorf("delivery history: %w", err)
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

func (s *PostgresDeliveryStore) RecentForSubscription(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]domain.Delivery, SubscriptionStats, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE subscription_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		subscriptionID, limit)
	if err != nil {
		return nil, SubscriptionStats{}, fmt.Errorf("recent deliveries: %w", err)
	}
	defer rows.Close()
	recent, err := collectDeliveries(rows)
	if err != nil {
		return nil, SubscriptionStats{}, err
	}

	var stats SubscriptionStats
	var successful int
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'delivered')
		FROM webhook_deliveries
		WHERE subscription_id = $1`,
		subscriptionID,
	).Scan(&stats.TotalCount, &successful)
	if err != nil {
		return nil, SubscriptionStats{}, fmt.Errorf("subscription stats: %w", err)
	}
	if stats.TotalCount > 0 {
		stats.SuccessRate = float64(successful) / float64(stats.TotalCount) * 100
	}
	return recent, stats, nil
}

func (s *PostgresDeliveryStore) ListDead(ctx context.Context, limit int) ([]domain.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE status = 'max_retries_exceeded'
		ORDER BY updated_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead: %w", err)
	}
	defer rows.Close()
	return collectDeliveries(rows)
}

func (s *PostgresDeliveryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := s.pool.Exec(ctx,
		`DELETE FROM webhook_deliveries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old deliveries: %w", err)
	}
	return ct.RowsAffected(), nil
}

func collectDeliveries(rows pgx.Rows) ([]domain.Delivery, error) {
	var out []domain.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}
