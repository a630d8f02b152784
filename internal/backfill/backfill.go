package backfill

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"basegraph.app/committelemetry/common/logger"
	"basegraph.app/committelemetry/internal/delivery"
	"basegraph.app/committelemetry/internal/hgmo"
	"basegraph.app/committelemetry/internal/model"
	"basegraph.app/committelemetry/internal/normalize"
	"basegraph.app/committelemetry/internal/pipeline"
)

var ErrInvalidRange = errors.New("invalid push id range")

// PushSource reads one push from a repository pushlog.
type PushSource interface {
	FetchPush(ctx context.Context, repoURL string, pushID int64) (model.RawPushRecord, error)
}

type Processor interface {
	Process(ctx context.Context, push model.Push, dryRun bool) (pipeline.Outcome, error)
}

type Config struct {
	// MaxAttempts bounds tries per push for transient pushlog errors and
	// transport failures. Content failures are never retried.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Failure is one push that could not be delivered.
type Failure struct {
	PushID int64
	Reason string
}

type Report struct {
	Processed int
	// Skipped counts pushes whose pings were built but not sent (dry run).
	Skipped int
	Failed  []Failure
}

func (r Report) OK() bool {
	return len(r.Failed) == 0
}

type Driver struct {
	source    PushSource
	processor Processor
	cfg       Config
}

func New(source PushSource, processor Processor, cfg Config) *Driver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	return &Driver{source: source, processor: processor, cfg: cfg}
}

// Backfill replays every push in [start, end] in ascending order. A failing
// push is recorded in the report and the run moves on; the returned error is
// reserved for an invalid range or a cancelled context.
func (d *Driver) Backfill(ctx context.Context, repoURL string, start, end int64, dryRun bool) (Report, error) {
	if err := ValidateRange(start, end); err != nil {
		return Report{}, err
	}
	return d.BackfillIDs(ctx, repoURL, Range(start, end), dryRun)
}

// Range yields start through end inclusive. It stops at end without
// stepping past it, so end may be math.MaxInt64.
func Range(start, end int64) iter.Seq[int64] {
	return func(yield func(int64) bool) {
		if end < start {
			return
		}
		for id := start; ; id++ {
			if !yield(id) || id == end {
				return
			}
		}
	}
}

// BackfillIDs replays the given pushes in the order given.
func (d *Driver) BackfillIDs(ctx context.Context, repoURL string, ids iter.Seq[int64], dryRun bool) (Report, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RepoURL:   logger.Ptr(repoURL),
		Component: "committelemetry.backfill",
	})
	ctx = pipeline.WithSource(ctx, model.SourcePushlog)

	slog.InfoContext(ctx, "backfill started", "dry_run", dryRun)
	start := time.Now()

	var report Report
	for id := range ids {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("backfill interrupted before push %d: %w", id, err)
		}

		pushCtx := logger.WithLogFields(ctx, logger.LogFields{PushID: logger.Ptr(id)})
		res, err := d.one(pushCtx, repoURL, id, dryRun)
		if err != nil {
			slog.WarnContext(pushCtx, "push failed", "error", err)
			report.Failed = append(report.Failed, Failure{PushID: id, Reason: err.Error()})
			continue
		}
		if res.Status == delivery.StatusSkipped {
			report.Skipped++
		}
		report.Processed++
	}

	slog.InfoContext(ctx, "backfill finished",
		"processed", report.Processed,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
		"duration_ms", time.Since(start).Milliseconds())
	return report, nil
}

func (d *Driver) one(ctx context.Context, repoURL string, id int64, dryRun bool) (delivery.Result, error) {
	raw, err := backoff.Retry(ctx, func() (model.RawPushRecord, error) {
		raw, err := d.source.FetchPush(ctx, repoURL, id)
		if err != nil && !hgmo.IsTransient(err) {
			return raw, backoff.Permanent(err)
		}
		return raw, err
	}, d.retryOptions(ctx, "pushlog fetch failed, retrying")...)
	if err != nil {
		return delivery.Result{}, err
	}

	push, err := normalize.Normalize(raw)
	if err != nil {
		return delivery.Result{}, err
	}

	return backoff.Retry(ctx, func() (delivery.Result, error) {
		out, err := d.processor.Process(ctx, push, dryRun)
		if err != nil {
			return delivery.Result{}, backoff.Permanent(err)
		}
		res := out.Result
		switch {
		case res.Succeeded():
			return res, nil
		case res.Retryable():
			return res, fmt.Errorf("transport failure: %s", res.Reason)
		default:
			return res, backoff.Permanent(fmt.Errorf("rejected by ingestion: %s", res.Reason))
		}
	}, d.retryOptions(ctx, "delivery failed, retrying")...)
}

func (d *Driver) retryOptions(ctx context.Context, msg string) []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialInterval
	b.MaxInterval = d.cfg.MaxInterval

	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(d.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, msg, "error", err, "next_retry_in", next)
		}),
	}
}

// ValidateRange rejects ranges that cannot name any push.
func ValidateRange(start, end int64) error {
	if start <= 0 || end <= 0 {
		return fmt.Errorf("%w: push ids must be positive, got %d..%d", ErrInvalidRange, start, end)
	}
	if start > end {
		return fmt.Errorf("%w: start %d is after end %d", ErrInvalidRange, start, end)
	}
	return nil
}
