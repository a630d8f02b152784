package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"basegraph.app/committelemetry/common/logger"
)

type ConsumerConfig struct {
	Stream       string        // Redis stream name
	Group        string        // Redis consumer group name
	Consumer     string        // Redis consumer name
	DLQStream    string        // Dead letter stream
	BatchSize    int64         // Entries per read
	Block        time.Duration // How long a read blocks waiting for entries
	MaxAttempts  int           // Deliveries before a requeued message is dead-lettered
	RequeueDelay time.Duration // Wait before a rejected message is re-published
}

// RedisConsumer reads push notifications from a stream through a consumer
// group. Every disposition acknowledges the original entry last, after any
// replacement entry is written, so a crash in between duplicates a message
// instead of losing it.
type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(ctx context.Context, client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(ctx); err != nil {
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) Config() ConsumerConfig {
	return c.cfg
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// "0" rather than "$": a recreated group must still see entries already
	// in the stream.
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

// Receive blocks up to Block for new entries. Entries that are not valid
// envelopes are dead-lettered here and never returned.
func (c *RedisConsumer) Receive(ctx context.Context) ([]Envelope, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "committelemetry.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// ">" is entries never delivered to this group. Entries left pending
		// by a dead consumer are the reclaimer's job.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Envelope{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var envelopes []Envelope
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			env, parseErr := ParseEnvelope(msg)
			if parseErr != nil {
				slog.ErrorContext(ctx, "unparseable stream entry",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				if dlqErr := c.DeadLetterRaw(ctx, msg, parseErr.Error()); dlqErr != nil {
					slog.ErrorContext(ctx, "failed to dead-letter unparseable entry", "error", dlqErr)
				}
				continue
			}
			envelopes = append(envelopes, env)
		}
	}

	if len(envelopes) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(envelopes),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return envelopes, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, env Envelope) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, env.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", c.cfg.Stream)
	return nil
}

// Reject settles a message that was not delivered. With requeue it is
// re-published with attempt+1 after RequeueDelay, unless its attempts are
// used up, in which case it is dead-lettered like a non-requeued reject.
func (c *RedisConsumer) Reject(ctx context.Context, env Envelope, requeue bool, reason string) error {
	if !requeue {
		return c.deadLetter(ctx, env.ID, envelopeValues(env.Body, env.Attempt), reason)
	}
	if env.Attempt >= c.cfg.MaxAttempts {
		return c.deadLetter(ctx, env.ID, envelopeValues(env.Body, env.Attempt),
			fmt.Sprintf("gave up after %d attempts: %s", env.Attempt, reason))
	}
	return c.requeue(ctx, env, reason)
}

func (c *RedisConsumer) requeue(ctx context.Context, env Envelope, reason string) error {
	if c.cfg.RequeueDelay > 0 {
		t := time.NewTimer(c.cfg.RequeueDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			// Still pending; the reclaimer picks it up.
			return fmt.Errorf("requeue delay interrupted: %w", ctx.Err())
		case <-t.C:
		}
	}

	next := env.Attempt + 1
	values := envelopeValues(env.Body, next)
	if reason != "" {
		values[fieldLastError] = logger.Truncate(reason, 1024)
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: c.cfg.Stream, Values: values})
		pipe.XAck(ctx, c.cfg.Stream, c.cfg.Group, env.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeue (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", next,
		"reason", reason)
	return nil
}

// DeadLetterRaw moves an entry that could not even be parsed.
func (c *RedisConsumer) DeadLetterRaw(ctx context.Context, msg redis.XMessage, reason string) error {
	return c.deadLetter(ctx, msg.ID, rawValues(msg), reason)
}

func (c *RedisConsumer) deadLetter(ctx context.Context, id string, values map[string]any, reason string) error {
	values[fieldError] = reason
	values[fieldOriginalID] = id
	values[fieldFailedAt] = time.Now().UTC().Format(time.RFC3339)

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: c.cfg.DLQStream, Values: values})
		pipe.XAck(ctx, c.cfg.Stream, c.cfg.Group, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", reason,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}
