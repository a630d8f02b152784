package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/committelemetry/internal/normalize"
	"basegraph.app/committelemetry/internal/queue"
)

type PushIntakeResult struct {
	MessageID string
	RepoURL   string
	PushIDs   []int64
	Enqueued  bool
	// Ignored is set when the notification is valid but of a type the
	// worker does not act on.
	Ignored string
}

// PushIntakeService accepts hg push notifications over HTTP and puts them on
// the worker's stream.
type PushIntakeService interface {
	Submit(ctx context.Context, body []byte) (*PushIntakeResult, error)
}

type pushIntakeService struct {
	queue  queue.Producer
	logger *slog.Logger
}

func NewPushIntakeService(queue queue.Producer, logger *slog.Logger) PushIntakeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &pushIntakeService{queue: queue, logger: logger}
}

// Submit validates body the way the worker will and enqueues it unchanged.
// Malformed notifications return a *normalize.MalformedRecordError and are
// never enqueued.
func (s *pushIntakeService) Submit(ctx context.Context, body []byte) (*PushIntakeResult, error) {
	n, err := normalize.ParseNotification(body)
	if err != nil {
		if errors.Is(err, normalize.ErrIgnoredMessage) {
			return &PushIntakeResult{Ignored: err.Error()}, nil
		}
		return nil, err
	}

	result := &PushIntakeResult{RepoURL: n.Data.RepoURL}
	for _, p := range n.Data.PushlogPushes {
		result.PushIDs = append(result.PushIDs, p.ID())
	}

	id, err := s.queue.Enqueue(ctx, body)
	if err != nil {
		return nil, fmt.Errorf("enqueueing notification: %w", err)
	}
	result.MessageID = id
	result.Enqueued = true

	s.logger.InfoContext(ctx, "push notification accepted",
		"message_id", id,
		"repo_url", result.RepoURL,
		"push_ids", result.PushIDs)
	return result, nil
}
