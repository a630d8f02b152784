// Package bootstrap holds the setup every command shares: config, telemetry,
// logging, and the external collaborators built from config.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"basegraph.app/committelemetry/common/id"
	"basegraph.app/committelemetry/common/logger"
	"basegraph.app/committelemetry/common/otel"
	"basegraph.app/committelemetry/core/config"
	"basegraph.app/committelemetry/core/db"
	"basegraph.app/committelemetry/internal/delivery"
	"basegraph.app/committelemetry/internal/hgmo"
	"basegraph.app/committelemetry/internal/ledger"
)

// Start loads config, then OTel, then the logger. OTel must come before the
// logger because production logging goes through the OTel log provider.
func Start(ctx context.Context, service config.ServiceType, debug bool) (config.Config, *otel.Telemetry, error) {
	cfg, err := config.Load(service)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("loading config: %w", err)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("initializing otel: %w", err)
	}

	logger.Setup(cfg, debug)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.DebugContext(ctx, "otel disabled (no endpoint configured)")
	}
	return cfg, telemetry, nil
}

func Redis(ctx context.Context, cfg config.QueueConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	slog.InfoContext(ctx, "redis connected", "stream", cfg.RedisStream)
	return client, nil
}

// Pushlog builds the hgweb client and checks that repoURL's pushlog answers.
func Pushlog(ctx context.Context, cfg config.PushlogConfig, repoURL string) (*hgmo.Client, error) {
	client := hgmo.NewClient(hgmo.Config{Timeout: cfg.Timeout, PageSize: cfg.PageSize})

	last, err := client.LastPushID(ctx, repoURL)
	if err != nil {
		return nil, fmt.Errorf("pushlog of %s unreachable: %w", repoURL, err)
	}
	slog.InfoContext(ctx, "pushlog reachable", "repo_url", repoURL, "last_push_id", last)
	return client, nil
}

func Delivery(cfg config.TelemetryConfig) *delivery.Client {
	return delivery.NewClient(delivery.Config{
		BaseURL:    cfg.BaseURL,
		Namespace:  cfg.Namespace,
		DocType:    cfg.DocType,
		DocVersion: cfg.DocVersion,
		Timeout:    cfg.Timeout,
		Gzip:       cfg.Gzip,
	})
}

// Ledger connects the delivery ledger when DATABASE_URL is set and returns
// ledger.Nop otherwise. The returned func releases the connection pool.
func Ledger(ctx context.Context, cfg config.Config, node int64) (ledger.Recorder, func(), error) {
	if !cfg.LedgerEnabled() {
		slog.InfoContext(ctx, "delivery ledger disabled (no DATABASE_URL)")
		return ledger.Nop{}, func() {}, nil
	}

	if err := id.Init(node); err != nil {
		return nil, nil, fmt.Errorf("initializing id generator: %w", err)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	store := ledger.NewStore(database)
	if err := store.EnsureSchema(ctx); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("preparing ledger schema: %w", err)
	}
	slog.InfoContext(ctx, "delivery ledger connected")
	return store, database.Close, nil
}
