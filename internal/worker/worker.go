package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"basegraph.app/committelemetry/common/logger"
	"basegraph.app/committelemetry/internal/delivery"
	"basegraph.app/committelemetry/internal/hgmo"
	"basegraph.app/committelemetry/internal/model"
	"basegraph.app/committelemetry/internal/normalize"
	"basegraph.app/committelemetry/internal/ping"
	"basegraph.app/committelemetry/internal/pipeline"
	"basegraph.app/committelemetry/internal/queue"
)

// Disposition is how a message left the worker.
type Disposition string

const (
	DispositionAcked        Disposition = "ACKED"
	DispositionRequeued     Disposition = "REQUEUED"
	DispositionDeadLettered Disposition = "DEAD_LETTERED"
	// DispositionPending means the message was deliberately left unacked:
	// a dry run that must not drain the queue, or a failed disposition.
	DispositionPending Disposition = "PENDING"
)

type Config struct {
	DryRun bool
	// AckDryRun acknowledges messages whose pings were only built in a dry
	// run. When false a dry run leaves the queue as it found it.
	AckDryRun bool
	// ErrorBackoff is the pause after a failed read.
	ErrorBackoff time.Duration
}

// Worker drains push notifications one message at a time.
type Worker struct {
	consumer  Consumer
	source    PushSource
	processor Processor
	cfg       Config

	// mu serializes message handling between Run and the reclaimer.
	mu sync.Mutex

	stopCh    chan struct{}
	stoppedCh chan struct{}
	stopOnce  sync.Once
}

func New(consumer Consumer, source PushSource, processor Processor, cfg Config) *Worker {
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		consumer:  consumer,
		source:    source,
		processor: processor,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "committelemetry.worker"})
	slog.InfoContext(ctx, "worker started", "dry_run", w.cfg.DryRun, "ack_dry_run", w.cfg.AckDryRun)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				w.pause(ctx)
			}
		}
	}
}

// Stop asks Run to return after the message in hand, and waits for it.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	<-w.stoppedCh
}

func (w *Worker) pause(ctx context.Context) {
	t := time.NewTimer(w.cfg.ErrorBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-w.stopCh:
	case <-t.C:
	}
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	envelopes, err := w.consumer.Receive(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, env := range envelopes {
		w.HandleMessage(ctx, env)
	}
	return nil
}

// HandleMessage processes and settles one message. Exported so it can be
// reused by the reclaimer; calls are serialized.
func (w *Worker) HandleMessage(ctx context.Context, env queue.Envelope) Disposition {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx = logger.WithLogFields(ctx, logger.LogFields{MessageID: logger.Ptr(env.ID)})
	sc := logger.StartSpan(ctx, "worker.handle_message", trace.WithSpanKind(trace.SpanKindConsumer))
	defer sc.End()
	ctx = sc.Context()
	sc.Span().SetAttributes(
		attribute.String("messaging.message.id", env.ID),
		attribute.Int("messaging.attempt", env.Attempt),
	)

	start := time.Now()
	v := w.evaluateSafe(ctx, env)
	d := w.settle(ctx, env, v)
	sc.Span().SetAttributes(attribute.String("disposition", string(d)))

	slog.InfoContext(ctx, "message settled",
		"disposition", d,
		"attempt", env.Attempt,
		"pushes", v.pushes,
		"duration_ms", time.Since(start).Milliseconds())
	return d
}

// verdict is what should happen to a message.
type verdict struct {
	action action
	reason string
	pushes int
}

type action int

const (
	actionAck action = iota
	actionRequeue
	actionDeadLetter
	actionLeavePending
)

func (w *Worker) evaluateSafe(ctx context.Context, env queue.Envelope) (v verdict) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			v = verdict{action: actionRequeue, reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return w.evaluate(ctx, env)
}

func (w *Worker) evaluate(ctx context.Context, env queue.Envelope) verdict {
	n, err := normalize.ParseNotification(env.Body)
	if err != nil {
		if errors.Is(err, normalize.ErrIgnoredMessage) {
			slog.InfoContext(ctx, "ignoring message", "reason", err)
			return verdict{action: actionAck}
		}
		return verdict{action: actionDeadLetter, reason: err.Error()}
	}

	ctx = pipeline.WithSource(ctx, model.SourceQueue)
	skipped := 0
	for i, p := range n.Data.PushlogPushes {
		pushCtx := logger.WithLogFields(ctx, logger.LogFields{
			PushID:  logger.Ptr(p.ID()),
			RepoURL: logger.Ptr(n.Data.RepoURL),
		})

		push, v, ok := w.resolve(pushCtx, n, p)
		if !ok {
			v.pushes = i
			return v
		}

		out, err := w.processor.Process(pushCtx, push, w.cfg.DryRun)
		if err != nil {
			// A ping that does not line up with its push must not be
			// delivered or retried.
			return verdict{action: actionDeadLetter, reason: err.Error(), pushes: i}
		}

		switch res := out.Result; {
		case res.Status == delivery.StatusSkipped:
			skipped++
		case res.Succeeded():
		case res.Retryable():
			return verdict{action: actionRequeue, reason: res.Reason, pushes: i}
		default:
			logRejectedPing(pushCtx, out, env)
			return verdict{action: actionDeadLetter, reason: res.Reason, pushes: i}
		}
	}

	pushes := len(n.Data.PushlogPushes)
	if skipped > 0 && !w.cfg.AckDryRun {
		return verdict{action: actionLeavePending, reason: "dry run", pushes: pushes}
	}
	return verdict{action: actionAck, pushes: pushes}
}

// logRejectedPing logs the full ping the ingestion service refused, so it
// can be corrected and replayed by hand.
func logRejectedPing(ctx context.Context, out pipeline.Outcome, env queue.Envelope) {
	payload, err := ping.Marshal(out.Ping)
	if err != nil {
		slog.ErrorContext(ctx, "ping rejected by ingestion and could not be re-encoded",
			"reason", out.Result.Reason,
			"status_code", out.Result.StatusCode,
			"encode_error", err,
			"message", string(env.Body))
		return
	}
	slog.ErrorContext(ctx, "ping rejected by ingestion, payload follows",
		"reason", out.Result.Reason,
		"status_code", out.Result.StatusCode,
		"document_id", out.Result.DocumentID,
		"payload", string(payload),
		"message", string(env.Body))
}

// resolve turns one notification push into a model.Push, fetching its
// changesets from the pushlog when the notification only references it.
func (w *Worker) resolve(ctx context.Context, n normalize.Notification, p normalize.NotificationPush) (model.Push, verdict, bool) {
	if p.Inline() {
		push, err := normalize.FromNotification(n, p)
		if err != nil {
			return model.Push{}, verdict{action: actionDeadLetter, reason: err.Error()}, false
		}
		return push, verdict{}, true
	}

	raw, err := w.source.FetchPush(ctx, n.Data.RepoURL, p.ID())
	switch {
	case err == nil:
	case errors.Is(err, hgmo.ErrNotFound):
		return model.Push{}, verdict{action: actionDeadLetter, reason: err.Error()}, false
	case hgmo.IsTransient(err) || errors.Is(err, context.Canceled):
		return model.Push{}, verdict{action: actionRequeue, reason: err.Error()}, false
	default:
		return model.Push{}, verdict{action: actionDeadLetter, reason: err.Error()}, false
	}

	push, err := normalize.Normalize(raw)
	if err != nil {
		return model.Push{}, verdict{action: actionDeadLetter, reason: err.Error()}, false
	}
	return push, verdict{}, true
}

func (w *Worker) settle(ctx context.Context, env queue.Envelope, v verdict) Disposition {
	switch v.action {
	case actionAck:
		if err := w.consumer.Ack(ctx, env); err != nil {
			// Redelivered later; pings are idempotent by document id.
			slog.WarnContext(ctx, "failed to ACK message", "error", err)
			return DispositionPending
		}
		return DispositionAcked

	case actionLeavePending:
		slog.InfoContext(ctx, "dry run, leaving message unacknowledged")
		return DispositionPending

	case actionRequeue:
		slog.WarnContext(ctx, "requeuing message", "reason", v.reason, "attempt", env.Attempt)
		if err := w.consumer.Reject(ctx, env, true, v.reason); err != nil {
			slog.ErrorContext(ctx, "failed to requeue message", "error", err)
			return DispositionPending
		}
		return DispositionRequeued

	default:
		slog.ErrorContext(ctx, "dead-lettering message", "reason", v.reason)
		if err := w.consumer.Reject(ctx, env, false, v.reason); err != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", err)
			return DispositionPending
		}
		return DispositionDeadLettered
	}
}
