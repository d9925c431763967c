package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/why-aditi/webhook-delivery-service/internal/cache"
	"github.com/why-aditi/webhook-delivery-service/internal/config"
	"github.com/why-aditi/webhook-delivery-service/internal/db"
	"github.com/why-aditi/webhook-delivery-service/internal/delivery"
	"github.com/why-aditi/webhook-delivery-service/internal/health"
	"github.com/why-aditi/webhook-delivery-service/internal/logging"
	"github.com/why-aditi/webhook-delivery-service/internal/metrics"
	"github.com/why-aditi/webhook-delivery-service/internal/retry"
	"github.com/why-aditi/webhook-delivery-service/internal/store"
	"github.com/why-aditi/webhook-delivery-service/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("webhook-worker")

	shutdownTracing, err := tracing.InitTracing(ctx, "webhook-worker")
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

	// Health and metrics HTTP endpoint
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool, directory))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.WorkerHTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

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

	scheduler := retry.NewScheduler(deliveries, dispatcher, cfg.Webhook.MaxRetries, cfg.Webhook.PollInterval, logger).
		WithPendingSweep(cfg.Webhook.PendingMinAge).
		WithRetention(time.Duration(cfg.Webhook.RetentionDays) * 24 * time.Hour)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		scheduler.Start(runCtx)
		close(done)
	}()

	logger.Plain().Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down worker service")
	cancel()
	<-done
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}
