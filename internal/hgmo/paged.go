package hgmo

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	"basegraph.app/committelemetry/internal/model"
)

// PagedSource serves FetchPush from whole pushlog pages, so walking a range
// id by id costs one request per page instead of one per push. It keeps a
// single page; a failed page load is not cached and the next call retries it.
type PagedSource struct {
	client *Client

	mu      sync.Mutex
	repo    string
	lo, hi  int64
	records map[int64]model.RawPushRecord
}

func NewPagedSource(client *Client) *PagedSource {
	return &PagedSource{client: client}
}

func (s *PagedSource) FetchPush(ctx context.Context, repoURL string, pushID int64) (model.RawPushRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pushID <= 0 {
		return model.RawPushRecord{}, fmt.Errorf("push %d: %w", pushID, ErrNotFound)
	}

	if !s.covers(repoURL, pushID) {
		if err := s.load(ctx, repoURL, pushID); err != nil {
			return model.RawPushRecord{}, err
		}
	}

	rec, ok := s.records[pushID]
	if !ok {
		return model.RawPushRecord{}, fmt.Errorf("push %d in %s: %w", pushID, repoURL, ErrNotFound)
	}
	return rec, nil
}

func (s *PagedSource) covers(repoURL string, pushID int64) bool {
	return s.records != nil && sameRepo(s.repo, repoURL) && pushID >= s.lo && pushID <= s.hi
}

func (s *PagedSource) load(ctx context.Context, repoURL string, from int64) error {
	to := pageEnd(from, math.MaxInt64, s.client.PageSize())
	records, err := s.client.FetchPushes(ctx, repoURL, from, to)
	if err != nil {
		s.records = nil
		return err
	}

	s.repo, s.lo, s.hi = repoURL, from, to
	s.records = make(map[int64]model.RawPushRecord, len(records))
	for _, rec := range records {
		s.records[rec.PushID] = rec
	}
	return nil
}

func sameRepo(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}
