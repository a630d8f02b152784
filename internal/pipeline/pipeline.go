package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/committelemetry/common/logger"
	"basegraph.app/committelemetry/internal/classifier"
	"basegraph.app/committelemetry/internal/delivery"
	"basegraph.app/committelemetry/internal/ledger"
	"basegraph.app/committelemetry/internal/model"
	"basegraph.app/committelemetry/internal/ping"
)

// Sender delivers one ping, once.
type Sender interface {
	Send(ctx context.Context, p model.Ping, dryRun bool) delivery.Result
}

// Outcome is what happened to one push.
type Outcome struct {
	Ping   model.Ping
	Result delivery.Result
}

// Pipeline is the classify, build and send chain both front-ends share.
// It knows nothing about where a push came from.
type Pipeline struct {
	classify func([]model.Commit) []model.ReviewClassification
	builder  *ping.Builder
	sender   Sender
	ledger   ledger.Recorder
}

type Option func(*Pipeline)

func WithClassifier(c *classifier.Classifier) Option {
	return func(p *Pipeline) { p.classify = c.ClassifyAll }
}

func WithBuilder(b *ping.Builder) Option {
	return func(p *Pipeline) { p.builder = b }
}

func WithLedger(r ledger.Recorder) Option {
	return func(p *Pipeline) { p.ledger = r }
}

func New(sender Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		classify: classifier.New().ClassifyAll,
		builder:  ping.NewBuilder(),
		sender:   sender,
		ledger:   ledger.Nop{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Build classifies every commit of push and assembles its ping without
// sending it.
func (p *Pipeline) Build(push model.Push) (model.Ping, error) {
	return p.builder.Build(push, p.classify(push.Commits))
}

// Process runs one push through the chain. The returned error is only ever
// a *ping.ShapeMismatchError; delivery problems are reported in the
// Outcome's Result.
func (p *Pipeline) Process(ctx context.Context, push model.Push, dryRun bool) (Outcome, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		PushID:  logger.Ptr(push.PushID),
		RepoURL: logger.Ptr(push.RepoURL),
	})
	sc := logger.StartSpan(ctx, "pipeline.process_push")
	defer sc.End()
	ctx = sc.Context()
	sc.Span().SetAttributes(
		attribute.Int64("push.id", push.PushID),
		attribute.String("push.repo_url", push.RepoURL),
		attribute.Int("push.commits", len(push.Commits)),
		attribute.Bool("dry_run", dryRun),
	)

	built, err := p.Build(push)
	if err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "ping does not match push", "error", err)
		return Outcome{}, fmt.Errorf("building ping for push %d: %w", push.PushID, err)
	}

	for i, c := range built.Classifications {
		slog.DebugContext(ctx, "commit classified",
			"hash", push.Commits[i].Hash,
			"summary", classifier.Summary(push.Commits[i].Message),
			"review_system", c.System,
			"review_id", c.ReviewID)
	}

	res := p.sender.Send(ctx, built, dryRun)
	p.record(ctx, push, res)

	switch res.Status {
	case delivery.StatusSent:
		slog.InfoContext(ctx, "ping sent", "document_id", res.DocumentID, "status_code", res.StatusCode)
	case delivery.StatusSkipped:
		slog.InfoContext(ctx, "ping not sent (dry run)", "document_id", res.DocumentID)
	default:
		sc.RecordError(errors.New(res.Reason))
		slog.WarnContext(ctx, "ping delivery failed",
			"failure", res.Failure,
			"reason", res.Reason,
			"status_code", res.StatusCode)
	}

	return Outcome{Ping: built, Result: res}, nil
}

// record writes the disposition to the ledger. A ledger outage must not
// change what happens to the push, so errors are only logged.
func (p *Pipeline) record(ctx context.Context, push model.Push, res delivery.Result) {
	entry := ledger.Entry{
		RepoURL:    push.RepoURL,
		PushID:     push.PushID,
		Outcome:    OutcomeOf(res),
		Reason:     res.Reason,
		DocumentID: res.DocumentID,
	}
	if src, ok := SourceFrom(ctx); ok {
		entry.Source = string(src)
	}
	if err := p.ledger.Record(ctx, entry); err != nil {
		slog.WarnContext(ctx, "failed to record delivery in ledger", "error", err)
	}
}

// OutcomeOf maps a delivery result onto a ledger outcome.
func OutcomeOf(res delivery.Result) string {
	switch {
	case res.Status == delivery.StatusSent:
		return ledger.OutcomeSent
	case res.Status == delivery.StatusSkipped:
		return ledger.OutcomeSkipped
	case res.Failure == delivery.FailureTransport:
		return ledger.OutcomeTransportFailure
	default:
		return ledger.OutcomeContentFailure
	}
}

// IsShapeMismatch reports whether err came from a ping that could not be
// aligned with its push.
func IsShapeMismatch(err error) bool {
	var mismatch *ping.ShapeMismatchError
	return errors.As(err, &mismatch)
}

type sourceKey struct{}

// WithSource tags ctx with the front-end a push came through, for the ledger.
func WithSource(ctx context.Context, src model.Source) context.Context {
	return context.WithValue(ctx, sourceKey{}, src)
}

func SourceFrom(ctx context.Context) (model.Source, bool) {
	src, ok := ctx.Value(sourceKey{}).(model.Source)
	return src, ok
}
