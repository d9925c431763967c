package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/why-aditi/webhook-delivery-service/internal/auth"
	"github.com/why-aditi/webhook-delivery-service/internal/cache"
	"github.com/why-aditi/webhook-delivery-service/internal/config"
	"github.com/why-aditi/webhook-delivery-service/internal/db"
	"github.com/why-aditi/webhook-delivery-service/internal/delivery"
	"github.com/why-aditi/webhook-delivery-service/internal/health"
	"github.com/why-aditi/webhook-delivery-service/internal/ingest"
	"github.com/why-aditi/webhook-delivery-service/internal/logging"
	"github.com/why-aditi/webhook-delivery-service/internal/metrics"
	"github.com/why-aditi/webhook-delivery-service/internal/retry"
	"github.com/why-aditi/webhook-delivery-service/internal/store"
	"github.com/why-aditi/webhook-delivery-service/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("webhook-api")

	shutdownTracing, err := tracing.InitTracing(ctx, "webhook-api")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdownTracing()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()
	if err := store.Migrate(ctx, pool); err != nil {
		logger.Plain().WithError(err).Fatal("schema migration failed")
	}

	subs := store.NewPostgresSubscriptionStore(pool)
	deliveries := store.NewPostgresDeliveryStore(pool)

	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	directory := cache.NewDirectory(ctx, redisClient, subs, cfg.Redis.CacheTTL, logger)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	backoff := &retry.Backoff{
		BaseDelay: cfg.Webhook.BaseDelay,
		MaxDelay:  cfg.Webhook.MaxDelay,
		Factor:    2.0,
		Jitter:    cfg.Webhook.JitterPercent,
	}
	httpClient := &http.Client{Timeout: cfg.Webhook.RequestTimeout}
	dispatcher := delivery.NewDispatcher(deliveries, directory, backoff, cfg.Webhook.MaxRetries, httpClient, logger)
	if cfg.NSQ.PublishDLQ {
		dlq, err := delivery.NewNSQDeadLetterPublisher(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DLQTopic)
		if err != nil {
			logger.Plain().WithError(err).Fatal("nsq producer for DLQ creation failed")
		}
		defer dlq.Stop()
		dispatcher.WithDeadLetterPublisher(dlq)
	}

	server := ingest.NewServer(subs, deliveries, directory, dispatcher, logger)
	if cfg.Auth.Enabled {
		issuer, err := auth.NewTokenIssuer(cfg.Auth.SecretKey, cfg.Auth.TokenTTL)
		if err != nil {
			logger.Plain().WithError(err).Fatal("auth setup failed")
		}
		server.WithAuth(issuer)
	}

	router := server.Router()
	router.GET("/healthz", gin.WrapF(health.HTTPHandler(pool, directory)))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	httpSrv := &http.Server{Addr: cfg.HTTPPort, Handler: router}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("api server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("api server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Plain().WithError(err).Error("api server shutdown failed")
	}
	logger.Plain().Info("api server stopped")
}
