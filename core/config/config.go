package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"basegraph.app/committelemetry/core/db"
)

type Config struct {
	OTel       OTelConfig
	Queue      QueueConfig
	Telemetry  TelemetryConfig
	Pushlog    PushlogConfig
	Env        string
	Port       string
	TargetRepo string
	DB         db.Config
}

type OTelConfig struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

type QueueConfig struct {
	RedisURL       string
	RedisStream    string
	RedisGroup     string
	RedisDLQStream string
	RedisConsumer  string
	MaxAttempts    int
	RequeueDelay   time.Duration
}

// TelemetryConfig addresses the ping ingestion service.
type TelemetryConfig struct {
	BaseURL    string
	Namespace  string
	DocType    string
	DocVersion string
	Timeout    time.Duration
	Gzip       bool
}

type PushlogConfig struct {
	Timeout  time.Duration
	PageSize int
}

type ServiceType string

const (
	ServiceTypeServer   ServiceType = "server"
	ServiceTypeWorker   ServiceType = "worker"
	ServiceTypeBackfill ServiceType = "backfill"
	ServiceTypeDump     ServiceType = "dump"
)

// Load loads configuration from environment variables.
// In development, it loads from service-specific .env files:
//   - .env.server for the inspection API
//   - .env.worker for the queue consumer
//   - .env.backfill and .env.dump for the command line tools
//
// Falls back to .env if service-specific file doesn't exist.
func Load(serviceType ServiceType) (Config, error) {
	if getEnv("COMMITTELEMETRY_ENV", "development") == "development" {
		envFile := fmt.Sprintf(".env.%s", serviceType)
		if err := godotenv.Load(envFile); err != nil {
			_ = godotenv.Load(".env")
		}
	}

	cfg := Config{
		Env:        getEnv("COMMITTELEMETRY_ENV", "development"),
		Port:       getEnv("PORT", "8080"),
		TargetRepo: getEnv("TARGET_REPO", "https://hg.mozilla.org/mozilla-central"),
		DB: db.Config{
			DSN:      getEnv("DATABASE_URL", ""),
			MaxConns: getEnvInt32("DB_MAX_CONNS", 4),
			MinConns: getEnvInt32("DB_MIN_CONNS", 1),
		},
		OTel: OTelConfig{
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "committelemetry-"+string(serviceType)),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		},
		Queue: QueueConfig{
			RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
			RedisStream:    getEnv("REDIS_STREAM", "hgpush_events"),
			RedisGroup:     getEnv("REDIS_CONSUMER_GROUP", "committelemetry"),
			RedisDLQStream: getEnv("REDIS_DLQ_STREAM", "hgpush_events_dlq"),
			RedisConsumer:  getEnv("REDIS_CONSUMER_NAME", hostnameOr("committelemetry-worker")),
			MaxAttempts:    getEnvInt("QUEUE_MAX_ATTEMPTS", 5),
			RequeueDelay:   getEnvDuration("QUEUE_REQUEUE_DELAY", 5*time.Second),
		},
		Telemetry: TelemetryConfig{
			BaseURL:    getEnv("TMO_BASE_URL", "http://incoming.telemetry.mozilla.org/submit"),
			Namespace:  getEnv("TMO_PING_NAMESPACE", ""),
			DocType:    getEnv("TMO_PING_DOCTYPE", ""),
			DocVersion: getEnv("TMO_PING_DOCVERSION", ""),
			Timeout:    getEnvDuration("TMO_TIMEOUT", 30*time.Second),
			Gzip:       getEnvBool("TMO_GZIP", false),
		},
		Pushlog: PushlogConfig{
			Timeout:  getEnvDuration("PUSHLOG_TIMEOUT", 30*time.Second),
			PageSize: getEnvInt("PUSHLOG_PAGE_SIZE", 50),
		},
	}

	if cfg.Telemetry.Namespace == "" || cfg.Telemetry.DocType == "" || cfg.Telemetry.DocVersion == "" {
		return Config{}, fmt.Errorf("TMO_PING_NAMESPACE, TMO_PING_DOCTYPE and TMO_PING_DOCVERSION are required")
	}
	if cfg.Queue.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", cfg.Queue.MaxAttempts)
	}
	if cfg.Pushlog.PageSize < 1 {
		return Config{}, fmt.Errorf("PUSHLOG_PAGE_SIZE must be at least 1, got %d", cfg.Pushlog.PageSize)
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// LedgerEnabled reports whether the delivery ledger database is configured.
func (c Config) LedgerEnabled() bool {
	return c.DB.DSN != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt32(key string, fallback int32) int32 {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(i)
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("30s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

func hostnameOr(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
