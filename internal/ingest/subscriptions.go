package ingest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/why-aditi/webhook-delivery-service/internal/domain"
	"github.com/why-aditi/webhook-delivery-service/internal/store"
)

type subscriptionRequest struct {
	TargetURL  string   `json:"target_url" binding:"required"`
	Secret     string   `json:"secret"`
	EventTypes []string `json:"event_types" binding:"required"`
}

// subscriptionResponse never echoes the secret back.
type subscriptionResponse struct {
	ID         uuid.UUID `json:"id"`
	TargetURL  string    `json:"target_url"`
	EventTypes []string  `json:"event_types"`
	HasSecret  bool      `json:"has_secret"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toSubscriptionResponse(sub *domain.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:         sub.ID,
		TargetURL:  sub.TargetURL,
		EventTypes: sub.EventTypes,
		HasSecret:  sub.Secret != "",
		CreatedAt:  sub.CreatedAt,
		UpdatedAt:  sub.UpdatedAt,
	}
}

func (s *Server) createSubscription(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sub := &domain.Subscription{
		TargetURL:  req.TargetURL,
		Secret:     req.Secret,
		EventTypes: req.EventTypes,
	}
	if err := domain.ValidateTargetURL(sub.TargetURL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := domain.ValidateEventTypes(sub.EventTypes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.subs.Create(c.Request.Context(), sub); err != nil {
		s.logger.WithContext(c.Request.Context()).WithError(err).Error("subscription create failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create subscription"})
		return
	}
	if s.directory != nil {
		s.directory.Put(c.Request.Context(), sub)
	}
	c.JSON(http.StatusCreated, toSubscriptionResponse(sub))
}

func (s *Server) listSubscriptions(c *gin.Context) {
	subs, err := s.subs.List(c.Request.Context())
	if err != nil {
		s.logger.WithContext(c.Request.Context()).WithError(err).Error("subscription list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list subscriptions"})
		return
	}
	out := make([]subscriptionResponse, 0, len(subs))
	for i := range subs {
		out = append(out, toSubscriptionResponse(&subs[i]))
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": out, "total": len(out)})
}

func (s *Server) getSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}
	sub, err := s.subs.Get(c.Request.Context(), id)
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}
	if err != nil {
		s.logger.WithContext(c.Request.Context()).WithSubscription(id.String()).WithError(err).Error("subscription read failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read subscription"})
		return
	}
	c.JSON(http.StatusOK, toSubscriptionResponse(sub))
}

func (s *Server) updateSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	sub := &domain.Subscription{
		ID:         id,
		TargetURL:  req.TargetURL,
		Secret:     req.Secret,
		EventTypes: req.EventTypes,
	}
	if err := domain.ValidateTargetURL(sub.TargetURL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := domain.ValidateEventTypes(sub.EventTypes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = s.subs.Update(c.Request.Context(), sub)
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}
	if err != nil {
		s.logger.WithContext(c.Request.Context()).WithSubscription(id.String()).WithError(err).Error("subscription update failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update subscription"})
		return
	}
	// Overwrite rather than invalidate so the next dispatch sees the new
	// target without a storage round trip.
	if s.directory != nil {
		s.directory.Put(c.Request.Context(), sub)
	}
	c.JSON(http.StatusOK, toSubscriptionResponse(sub))
}

func (s *Server) deleteSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}
	err = s.subs.Delete(c.Request.Context(), id)
	if err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}
	if err != nil {
		s.logger.WithContext(c.Request.Context()).WithSubscription(id.String()).WithError(err).Error("subscription delete failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete subscription"})
		return
	}
	if s.directory != nil {
		s.directory.Invalidate(c.Request.Context(), id)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listSubscriptionDeliveries(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subscription id"})
		return
	}
	if _, err := s.subs.Get(c.Request.Context(), id); err == store.ErrNotFound {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	} else if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read subscription"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	recent, stats, err := s.deliveries.RecentForSubscription(c.Request.Context(), id, limit)
	if err != nil {
		s.logger.WithContext(c.Request.Context()).WithSubscription(id.String()).WithError(err).Error("delivery listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list deliveries"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"deliveries":   toDeliveryResponses(recent),
		"total_count":  stats.TotalCount,
		"success_rate": stats.SuccessRate,
	})
}
