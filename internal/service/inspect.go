package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/committelemetry/common/logger"
	"basegraph.app/committelemetry/internal/hgmo"
	"basegraph.app/committelemetry/internal/model"
	"basegraph.app/committelemetry/internal/normalize"
)

var ErrChangesetNotFound = errors.New("changeset not found")

// ChangesetLookup finds a changeset and the push that introduced it.
type ChangesetLookup interface {
	FetchChangeset(ctx context.Context, repoURL, node string) (hgmo.Changeset, error)
	FetchPush(ctx context.Context, repoURL string, pushID int64) (model.RawPushRecord, error)
}

type PingBuilder interface {
	Build(push model.Push) (model.Ping, error)
}

type InspectResult struct {
	Changeset hgmo.Changeset
	Ping      model.Ping
}

// InspectService shows the ping a push would produce without sending it.
type InspectService interface {
	PingForChangeset(ctx context.Context, repoURL, changeset string) (*InspectResult, error)
}

type inspectService struct {
	lookup      ChangesetLookup
	builder     PingBuilder
	defaultRepo string
}

func NewInspectService(lookup ChangesetLookup, builder PingBuilder, defaultRepo string) InspectService {
	return &inspectService{
		lookup:      lookup,
		builder:     builder,
		defaultRepo: defaultRepo,
	}
}

func (s *inspectService) PingForChangeset(ctx context.Context, repoURL, changeset string) (*InspectResult, error) {
	if repoURL == "" {
		repoURL = s.defaultRepo
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RepoURL:   logger.Ptr(repoURL),
		Changeset: logger.Ptr(changeset),
	})

	cs, err := s.lookup.FetchChangeset(ctx, repoURL, changeset)
	if err != nil {
		if errors.Is(err, hgmo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrChangesetNotFound, changeset)
		}
		return nil, fmt.Errorf("looking up changeset: %w", err)
	}
	if cs.PushID <= 0 {
		return nil, fmt.Errorf("%w: %s has no push in %s", ErrChangesetNotFound, changeset, repoURL)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{PushID: logger.Ptr(cs.PushID)})
	slog.DebugContext(ctx, "changeset resolved to push")

	raw, err := s.lookup.FetchPush(ctx, repoURL, cs.PushID)
	if err != nil {
		return nil, fmt.Errorf("fetching push %d: %w", cs.PushID, err)
	}
	push, err := normalize.Normalize(raw)
	if err != nil {
		return nil, err
	}
	p, err := s.builder.Build(push)
	if err != nil {
		return nil, err
	}

	return &InspectResult{Changeset: cs, Ping: p}, nil
}
