package ingest

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/why-aditi/webhook-delivery-service/internal/auth"
	"github.com/why-aditi/webhook-delivery-service/internal/cache"
	"github.com/why-aditi/webhook-delivery-service/internal/logging"
	"github.com/why-aditi/webhook-delivery-service/internal/store"
)

// Attempter runs one delivery attempt, implemented by delivery.Dispatcher.
type Attempter interface {
	Attempt(ctx context.Context, id uuid.UUID) error
}

// Server holds the REST API handlers: subscription management, event
// ingestion, and delivery status reads.
type Server struct {
	subs       store.SubscriptionStore
	deliveries store.DeliveryStore
	directory  *cache.Directory
	attempter  Attempter
	issuer     *auth.TokenIssuer // nil disables auth
	logger     *logging.Logger
}

func NewServer(subs store.SubscriptionStore, deliveries store.DeliveryStore, directory *cache.Directory, attempter Attempter, logger *logging.Logger) *Server {
	return &Server{
		subs:       subs,
		deliveries: deliveries,
		directory:  directory,
		attempter:  attempter,
		logger:     logger,
	}
}

// WithAuth protects the management routes with bearer token auth. Ingestion
// stays open: event producers authenticate per subscription via HMAC secrets
// on the outbound side.
func (s *Server) WithAuth(issuer *auth.TokenIssuer) *Server {
	s.issuer = issuer
	return s
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/ingest/:subscription_id", s.ingestEvent)

	managed := r.Group("/")
	if s.issuer != nil {
		managed.Use(s.issuer.Middleware())
	}
	managed.POST("/subscriptions", s.createSubscription)
	managed.GET("/subscriptions", s.listSubscriptions)
	managed.GET("/subscriptions/:id", s.getSubscription)
	managed.PUT("/subscriptions/:id", s.updateSubscription)
	managed.DELETE("/subscriptions/:id", s.deleteSubscription)
	managed.GET("/subscriptions/:id/deliveries", s.listSubscriptionDeliveries)

	managed.GET("/deliveries/dead", s.listDeadDeliveries)
	managed.GET("/deliveries/:id", s.getDelivery)
	managed.GET("/deliveries/:id/history", s.getDeliveryHistory)

	return r
}
