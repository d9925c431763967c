package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/why-aditi/webhook-delivery-service/internal/domain"
	"github.com/why-aditi/webhook-delivery-service/internal/metrics"
	"github.com/why-aditi/webhook-delivery-service/internal/store"
	"github.com/why-aditi/webhook-delivery-service/internal/tracing"
)

type ingestRequest struct {
	EventType string          `json:"event_type" binding:"required"`
	Payload   json.RawMessage `json:"payload" binding:"required"`
}

type deliveryResponse struct {
	ID             uuid.UUID       `json:"id"`
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Status         string          `json:"status"`
	RetryCount     int             `json:"retry_count"`
	LastAttempt    *time.Time      `json:"last_attempt,omitempty"`
	NextRetry      *time.Time      `json:"next_retry,omitempty"`
	ResponseStatus *int            `json:"response_status,omitempty"`
	ResponseBody   string          `json:"response_body,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func toDeliveryResponse(d *domain.Delivery) deliveryResponse {
	return deliveryResponse{
		ID:             d.ID,
		SubscriptionID: d.SubscriptionID,
		EventType:      d.EventType,
		Payload:        d.Payload,
		Status:         string(d.Status),
		RetryCount:     d.RetryCount,
		LastAttempt:    d.LastAttempt,
		NextRetry:      d.NextRetry,
		ResponseStatus: d.ResponseStatus,
		ResponseBody:   d.ResponseBody,
		ErrorMessage:   d.ErrorMessage,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
}

func toDeliveryResponses(ds []domain.Delivery) []deliveryResponse {
	out := make([]deliveryResponse, 0, len(ds))
	for i := range ds {
		out = append(out, toDeliveryResponse(&ds[i]))
	}
	return out
}

// ingestEvent accepts an event for a subscription and queues it for
// delivery. The response is 202: delivery happens asynchronously and its
// outcome is read back via GET /deliveries/:id.
func (s *Server) ingestEvent(c *gin.Context) {
	subID, err := uuid.Parse(c.Param("subscription_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sub, err := s.resolveSubscription(c.Request.Context(), subID)
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}
	if err != nil {
		s.logger.WithContext(c.Request.Context()).WithSubscription(subID.String()).WithError(err).Error("subscription resolve failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve subscription"})
		return
	}
	if !sub.AllowsEventType(req.EventType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subscription does not accept this event type"})
		return
	}

	d, err := s.deliveries.Create(c.Request.Context(), subID, req.EventType, req.Payload)
	if err != nil {
		s.logger.WithContext(c.Request.Context()).WithSubscription(subID.String()).WithError(err).Error("delivery create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue delivery"})
		return
	}
	metrics.RecordEventIngested(req.EventType)
	tracing.AddSpanEvent(c.Request.Context(), "delivery.queued")

	// Fire and forget: the retry scheduler sweeps any delivery this
	// goroutine fails to run.
	if s.attempter != nil {
		go func(id uuid.UUID) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			if err := s.attempter.Attempt(ctx, id); err != nil && err != store.ErrNotClaimable {
				s.logger.Plain().WithDelivery(id.String()).WithError(err).Error("immediate dispatch failed")
			}
		}(d.ID)
	}

	c.JSON(http.StatusAccepted, gin.H{
		"delivery_id": d.ID,
		"status":      string(d.Status),
	})
}

// resolveSubscription prefers the cache directory when wired.
func (s *Server) resolveSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	if s.directory != nil {
		return s.directory.Get(ctx, id)
	}
	return s.subs.Get(ctx, id)
}

func (s *Server) getDelivery(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery id"})
		return
	}
	d, err := s.deliveries.Get(c.Request.Context(), id)
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "delivery not found"})
		return
	}
	if err != nil {
		s.logger.WithContext(c.Request.Context()).WithDelivery(id.String()).WithError(err).Error("delivery read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read delivery"})
		return
	}
	c.JSON(http.StatusOK, toDeliveryResponse(d))
}

func (s *Server) getDeliveryHistory(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid delivery id"})
		return
	}
	history, err := s.deliveries.History(c.Request.Context(), id)
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "delivery not found"})
		return
	}
	if err != nil {
		s.logger.WithContext(c.Request.Context()).WithDelivery(id.String()).WithError(err).Error("delivery history failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read delivery history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": toDeliveryResponses(history), "total": len(history)})
}

func (s *Server) listDeadDeliveries(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	dead, err := s.deliveries.ListDead(c.Request.Context(), limit)
	if err != nil {
		s.logger.WithContext(c.Request.Context()).WithError(err).Error("dead delivery listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead deliveries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": toDeliveryResponses(dead), "total": len(dead)})
}
