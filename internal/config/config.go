package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type Redis struct {
	Addr     string // e.g. localhost:6379
	Password string
	DB       int
	CacheTTL time.Duration // subscription cache TTL
}

type Webhook struct {
	MaxRetries     int           // attempts before a delivery is abandoned
	RequestTimeout time.Duration // per-attempt HTTP timeout
	BaseDelay      time.Duration // backoff base
	MaxDelay       time.Duration // backoff cap
	JitterPercent  float64       // backoff jitter (0.0-1.0)
	PollInterval   time.Duration // retry scheduler cycle interval
	PendingMinAge  time.Duration // min age before the sweep picks up a pending delivery
	RetentionDays  int           // delete deliveries older than this
}

type Auth struct {
	Enabled   bool
	SecretKey string
	TokenTTL  time.Duration
}

type NSQ struct {
	NsqdTCPAddr string // e.g. nsqd:4150
	DLQTopic    string // dead letter topic
	PublishDLQ  bool   // publish exhausted deliveries to the DLQ topic
}

type Config struct {
	AppName        string
	HTTPPort       string // api server, e.g. :8080
	WorkerHTTPPort string // worker health/metrics, e.g. :8082
	DB             DB
	Redis          Redis
	Webhook        Webhook
	Auth           Auth
	NSQ            NSQ
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:        getenv("APP_NAME", "webhook-delivery"),
		HTTPPort:       getenv("HTTP_PORT", ":8080"),
		WorkerHTTPPort: getenv("WORKER_HTTP_PORT", ":8082"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "webhook_service"),
		},
		Redis: Redis{
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
			CacheTTL: getenvDuration("CACHE_TTL", time.Hour),
		},
		Webhook: Webhook{
			MaxRetries:     getenvInt("MAX_RETRIES", 5),
			RequestTimeout: getenvDuration("REQUEST_TIMEOUT", 10*time.Second),
			BaseDelay:      getenvDuration("RETRY_BASE_DELAY", 10*time.Second),
			MaxDelay:       getenvDuration("RETRY_MAX_DELAY", 15*time.Minute),
			JitterPercent:  getenvFloat("RETRY_JITTER_PCT", 0.2),
			PollInterval:   getenvDuration("POLL_INTERVAL", 5*time.Second),
			PendingMinAge:  getenvDuration("PENDING_MIN_AGE", 30*time.Second),
			RetentionDays:  getenvInt("LOG_RETENTION_DAYS", 30),
		},
		Auth: Auth{
			Enabled:   getenvBool("AUTH_ENABLED", false),
			SecretKey: getenv("SECRET_KEY", ""),
			TokenTTL:  getenvDuration("ACCESS_TOKEN_TTL", 30*time.Minute),
		},
		NSQ: NSQ{
			NsqdTCPAddr: getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			DLQTopic:    getenv("NSQ_DLQ_TOPIC", "deliveries_dlq"),
			PublishDLQ:  getenvBool("PUBLISH_DLQ_TOPIC", false),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
