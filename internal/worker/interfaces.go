package worker

import (
	"context"

	"basegraph.app/committelemetry/internal/model"
	"basegraph.app/committelemetry/internal/pipeline"
	"basegraph.app/committelemetry/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Receive(ctx context.Context) ([]queue.Envelope, error)
	Ack(ctx context.Context, env queue.Envelope) error
	Reject(ctx context.Context, env queue.Envelope, requeue bool, reason string) error
}

// PushSource resolves pushes that a notification only references.
type PushSource interface {
	FetchPush(ctx context.Context, repoURL string, pushID int64) (model.RawPushRecord, error)
}

// Processor runs one normalized push through classification and delivery.
type Processor interface {
	Process(ctx context.Context, push model.Push, dryRun bool) (pipeline.Outcome, error)
}
