package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Producer publishes push notifications onto the consumer's stream.
type Producer interface {
	Enqueue(ctx context.Context, body []byte) (string, error)
}

type redisProducer struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, body []byte) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("enqueue: empty body")
	}

	id, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: envelopeValues(body, 1),
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue push notification: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued push notification", "stream", p.stream, "message_id", id, "bytes", len(body))
	return id, nil
}
