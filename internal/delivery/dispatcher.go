package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/why-aditi/webhook-delivery-service/internal/domain"
	"github.com/why-aditi/webhook-delivery-service/internal/logging"
	"github.com/why-aditi/webhook-delivery-service/internal/metrics"
	"github.com/why-aditi/webhook-delivery-service/internal/retry"
	"github.com/why-aditi/webhook-delivery-service/internal/signature"
	"github.com/why-aditi/webhook-delivery-service/internal/store"
	"github.com/why-aditi/webhook-delivery-service/internal/tracing"
)

// Wire headers sent with every outbound webhook.
const (
	sigHeader          = "X-Webhook-Signature"
	deliveryIDHeader   = "X-Delivery-ID"
	subscriptionHeader = "X-Webhook-Subscription-Id"
	eventTypeHeader    = "X-Webhook-Event"
	retryCountHeader   = "X-Retry-Count"
)

// FailureKind labels why an attempt failed, used for metrics and the retry
// reason recorded on the delivery.
type FailureKind string

const (
	FailureTimeout      FailureKind = "timeout"
	FailureNetwork      FailureKind = "network"
	FailureHTTPStatus   FailureKind = "http_error"
	FailureSubscription FailureKind = "subscription_missing"
	FailureResolution   FailureKind = "resolution_error"
	FailurePayload      FailureKind = "bad_payload"
)

// SubscriptionResolver resolves a subscription by ID. Satisfied by both the
// cache Directory and a bare SubscriptionStore.
type SubscriptionResolver interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
}

// Dispatcher runs single delivery attempts: claim the row, resolve the
// subscriber, POST the signed payload, and record the outcome. All state
// transitions go through the store's conditional updates, so two dispatchers
// racing on the same delivery cannot both run it.
type Dispatcher struct {
	deliveries    store.DeliveryStore
	subscriptions SubscriptionResolver
	backoff       *retry.Backoff
	maxRetries    int
	client        *http.Client
	dlq           DeadLetterPublisher // optional
	logger        *logging.Logger
}

func NewDispatcher(deliveries store.DeliveryStore, subscriptions SubscriptionResolver, backoff *retry.Backoff, maxRetries int, client *http.Client, logger *logging.Logger) *Dispatcher {
	if backoff == nil {
		backoff = retry.DefaultBackoff()
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dispatcher{
		deliveries:    deliveries,
		subscriptions: subscriptions,
		backoff:       backoff,
		maxRetries:    maxRetries,
		client:        client,
		logger:        logger,
	}
}

// WithDeadLetterPublisher enables DLQ publication for abandoned deliveries.
func (d *Dispatcher) WithDeadLetterPublisher(pub DeadLetterPublisher) *Dispatcher {
	d.dlq = pub
	return d
}

// Attempt claims and runs one delivery attempt. A recorded delivery failure
// returns nil: the outcome lives on the row. Errors mean the attempt could
// not run at all, e.g. the row was already claimed (store.ErrNotClaimable)
// or storage failed.
func (d *Dispatcher) Attempt(ctx context.Context, id uuid.UUID) error {
	claimed, err := d.deliveries.ClaimAttempt(ctx, id, d.maxRetries)
	if err != nil {
		return err
	}

	ctx, span := tracing.StartSpan(ctx, "delivery.attempt",
		attribute.String("delivery_id", claimed.ID.String()),
		attribute.String("subscription_id", claimed.SubscriptionID.String()),
		attribute.String("event_type", claimed.EventType),
		attribute.Int("attempt", claimed.RetryCount),
	)
	defer span.End()

	log := d.logger.WithContext(ctx).
		WithDelivery(claimed.ID.String()).
		WithSubscription(claimed.SubscriptionID.String()).
		WithEventType(claimed.EventType)

	sub, err := d.subscriptions.Get(ctx, claimed.SubscriptionID)
	if errors.Is(err, store.ErrNotFound) {
		// The subscriber is gone; retrying cannot help.
		log.WithError(err).Error("subscription unresolvable, abandoning delivery")
		return d.recordFailure(ctx, claimed, failure{
			kind:    FailureSubscription,
			message: "subscription not found",
			fatal:   true,
		}, 0)
	}
	if err != nil {
		// Resolver backend hiccup; the next attempt may resolve fine.
		log.WithError(err).Warn("subscription resolution failed, scheduling retry")
		return d.recordFailure(ctx, claimed, failure{
			kind:    FailureResolution,
			message: domain.TruncateError(fmt.Sprintf("subscription resolution failed: %s", err)),
		}, 0)
	}

	req, err := d.buildRequest(ctx, claimed, sub)
	if err != nil {
		log.WithError(err).Error("request build failed, abandoning delivery")
		return d.recordFailure(ctx, claimed, failure{
			kind:    FailurePayload,
			message: domain.TruncateError(err.Error()),
			fatal:   true,
		}, 0)
	}

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	start := time.Now()
	resp, doErr := d.client.Do(req)
	latency := time.Since(start)

	status := 0
	respBody := ""
	if doErr == nil {
		status = resp.StatusCode
		b, _ := io.ReadAll(io.LimitReader(resp.Body, int64(domain.MaxResponseBodyLen)+1))
		_ = resp.Body.Close()
		respBody = domain.TruncateBody(string(b))
	}
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", latency.Milliseconds()),
	)

	if doErr == nil && status >= 200 && status < 300 {
		if err := d.deliveries.MarkDelivered(ctx, claimed.ID, status, respBody); err != nil {
			tracing.SetSpanError(ctx, err)
			return fmt.Errorf("mark delivered: %w", err)
		}
		metrics.RecordDelivery(string(domain.StatusDelivered), latency)
		log.WithFields(map[string]any{
			"http_status": status,
			"latency_ms":  latency.Milliseconds(),
			"attempt":     claimed.RetryCount,
		}).Info("delivery succeeded")
		return nil
	}

	f := classifyFailure(doErr, status, d.client.Timeout)
	f.responseBody = respBody
	if status > 0 {
		f.responseStatus = &status
	}
	span.SetAttributes(attribute.String("failure_reason", string(f.kind)))
	log.WithFields(map[string]any{
		"reason":      string(f.kind),
		"http_status": status,
		"attempt":     claimed.RetryCount,
	}).Warn(f.message)
	return d.recordFailure(ctx, claimed, f, latency)
}

// failure is everything one failed attempt needs to record.
type failure struct {
	kind           FailureKind
	message        string
	responseStatus *int
	responseBody   string
	fatal          bool // abandon regardless of remaining budget
}

func (d *Dispatcher) recordFailure(ctx context.Context, claimed *domain.Delivery, f failure, latency time.Duration) error {
	exhausted := f.fatal || claimed.RetryCount >= d.maxRetries

	rec := store.FailureRecord{
		ResponseStatus: f.responseStatus,
		ResponseBody:   f.responseBody,
		ErrorMessage:   domain.TruncateError(f.message),
		Exhausted:      exhausted,
	}
	if !exhausted {
		// RetryCount was already incremented by the claim, so the first
		// failure schedules the base delay.
		next := d.backoff.NextRetryAt(time.Now().UTC(), claimed.RetryCount-1)
		rec.NextRetry = &next
	}

	if err := d.deliveries.MarkFailed(ctx, claimed.ID, rec); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("mark failed: %w", err)
	}

	if exhausted {
		metrics.RecordDelivery(string(domain.StatusMaxRetriesExceeded), latency)
		metrics.RecordDLQ()
		d.publishDeadLetter(ctx, claimed, f)
	} else {
		metrics.RecordDelivery(string(domain.StatusFailed), latency)
		metrics.RecordRetry(string(f.kind))
	}
	return nil
}

func (d *Dispatcher) publishDeadLetter(ctx context.Context, claimed *domain.Delivery, f failure) {
	if d.dlq == nil {
		return
	}
	status := 0
	if f.responseStatus != nil {
		status = *f.responseStatus
	}
	env := NewDeadLetter(DeliverySnapshot{
		DeliveryID:     claimed.ID.String(),
		SubscriptionID: claimed.SubscriptionID.String(),
		EventType:      claimed.EventType,
		Payload:        claimed.Payload,
		Attempt:        claimed.RetryCount,
	}, status, f.message, fmt.Sprintf("max attempts reached (%d)", claimed.RetryCount))
	if err := d.dlq.Publish(env); err != nil {
		tracing.SetSpanError(ctx, err)
		d.logger.WithContext(ctx).WithDelivery(claimed.ID.String()).WithError(err).Error("dlq publish failed")
		return
	}
	tracing.AddSpanEvent(ctx, "nsq.published_dlq")
}

func (d *Dispatcher) buildRequest(ctx context.Context, claimed *domain.Delivery, sub *domain.Subscription) (*http.Request, error) {
	body, err := signature.Canonicalize(claimed.Payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(deliveryIDHeader, claimed.ID.String())
	req.Header.Set(subscriptionHeader, claimed.SubscriptionID.String())
	req.Header.Set(eventTypeHeader, claimed.EventType)
	req.Header.Set(retryCountHeader, strconv.Itoa(claimed.RetryCount-1))

	if sub.Secret != "" {
		sig, err := signature.Sign(claimed.Payload, sub.Secret)
		if err != nil {
			return nil, err
		}
		req.Header.Set(sigHeader, sig)
	}

	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}
	return req, nil
}

// classifyFailure maps a transport error or HTTP status to a failure kind
// with a message distinct enough to diagnose from the stored row alone.
func classifyFailure(doErr error, status int, timeout time.Duration) failure {
	if doErr != nil {
		var netErr net.Error
		if errors.Is(doErr, context.DeadlineExceeded) || (errors.As(doErr, &netErr) && netErr.Timeout()) {
			return failure{
				kind:    FailureTimeout,
				message: fmt.Sprintf("request timed out after %s", timeout),
			}
		}
		return failure{
			kind:    FailureNetwork,
			message: fmt.Sprintf("request failed: %s", doErr),
		}
	}
	return failure{
		kind:    FailureHTTPStatus,
		message: fmt.Sprintf("endpoint returned HTTP %d", status),
	}
}
