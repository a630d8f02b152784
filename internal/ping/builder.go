package ping

import (
	"fmt"
	"slices"
	"time"

	"basegraph.app/committelemetry/internal/model"
)

// SchemaVersion is the ping document version registered with the ingestion
// service. Any change to the wire shape needs a new version there first.
const SchemaVersion = 1

// ShapeMismatchError means the classifications do not line up with the
// push's commits. It is a programming error and must not be retried.
type ShapeMismatchError struct {
	Commits         int
	Classifications int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("ping shape mismatch: %d commits, %d classifications", e.Commits, e.Classifications)
}

type Option func(*Builder)

// WithClock overrides the build-time clock.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

type Builder struct {
	now func() time.Time
}

func NewBuilder(opts ...Option) *Builder {
	b := &Builder{now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build assembles the ping for a push. GeneratedAt is taken from the
// builder's clock, in UTC, at second precision.
func (b *Builder) Build(push model.Push, classifications []model.ReviewClassification) (model.Ping, error) {
	if len(classifications) != len(push.Commits) {
		return model.Ping{}, &ShapeMismatchError{
			Commits:         len(push.Commits),
			Classifications: len(classifications),
		}
	}

	aligned := make([]model.ReviewClassification, len(classifications))
	copy(aligned, classifications)

	return model.Ping{
		SchemaVersion:   SchemaVersion,
		Push:            clonePush(push),
		Classifications: aligned,
		GeneratedAt:     b.now().UTC().Truncate(time.Second),
	}, nil
}

// clonePush copies the slices of push so the ping owns its data.
func clonePush(push model.Push) model.Push {
	if push.Commits == nil {
		return push
	}
	commits := make([]model.Commit, len(push.Commits))
	for i, c := range push.Commits {
		c.ChangedPaths = slices.Clone(c.ChangedPaths)
		c.Parents = slices.Clone(c.Parents)
		commits[i] = c
	}
	push.Commits = commits
	return push
}
