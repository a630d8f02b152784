package ledger

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"

	"basegraph.app/committelemetry/common/id"
	"basegraph.app/committelemetry/core/db"
)

// Outcome values mirror delivery statuses, plus the failure kind for
// failed pushes so gaps can be told apart later.
const (
	OutcomeSent             = "SENT"
	OutcomeSkipped          = "SKIPPED"
	OutcomeTransportFailure = "FAILED_TRANSPORT"
	OutcomeContentFailure   = "FAILED_CONTENT"
)

// Entry is one disposition of one push.
type Entry struct {
	RepoURL    string
	PushID     int64
	Outcome    string
	Reason     string
	DocumentID string
	Source     string
}

// Recorder stores push dispositions.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	// Missing yields the ids of [start, end] with no SENT row, ascending.
	Missing(ctx context.Context, repoURL string, start, end int64) (iter.Seq[int64], error)
}

// Nop records nothing and reports every push as missing.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }

func (Nop) Missing(_ context.Context, _ string, start, end int64) (iter.Seq[int64], error) {
	return gaps(start, end, nil), nil
}

const Schema = `
CREATE TABLE IF NOT EXISTS push_deliveries (
	id          BIGINT PRIMARY KEY,
	repo_url    TEXT NOT NULL,
	push_id     BIGINT NOT NULL,
	outcome     TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	document_id TEXT NOT NULL DEFAULT '',
	source      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS push_deliveries_repo_push_idx ON push_deliveries (repo_url, push_id);
`

// Store is the Postgres-backed Recorder. Rows are append-only; a push can
// have many rows, one per attempt.
type Store struct {
	db *db.DB
}

func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// EnsureSchema creates the ledger table if it is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.db.WithTx(ctx, func(q db.Querier) error {
		if _, err := q.Exec(ctx, Schema); err != nil {
			return fmt.Errorf("creating ledger schema: %w", err)
		}
		return nil
	})
}

func (s *Store) Record(ctx context.Context, e Entry) error {
	_, err := s.db.Querier().Exec(ctx,
		`INSERT INTO push_deliveries (id, repo_url, push_id, outcome, reason, document_id, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id.New(), e.RepoURL, e.PushID, e.Outcome, e.Reason, e.DocumentID, e.Source)
	if err != nil {
		return fmt.Errorf("recording push %d: %w", e.PushID, err)
	}
	slog.DebugContext(ctx, "ledger entry recorded", "outcome", e.Outcome)
	return nil
}

// Missing lists ids in [start, end] that were never delivered.
func (s *Store) Missing(ctx context.Context, repoURL string, start, end int64) (iter.Seq[int64], error) {
	rows, err := s.db.Querier().Query(ctx,
		`SELECT DISTINCT push_id FROM push_deliveries
		 WHERE repo_url = $1 AND push_id BETWEEN $2 AND $3 AND outcome = $4`,
		repoURL, start, end, OutcomeSent)
	if err != nil {
		return nil, fmt.Errorf("querying delivered pushes: %w", err)
	}
	defer rows.Close()

	var delivered []int64
	for rows.Next() {
		var pushID int64
		if err := rows.Scan(&pushID); err != nil {
			return nil, fmt.Errorf("scanning push id: %w", err)
		}
		delivered = append(delivered, pushID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating delivered pushes: %w", err)
	}

	return gaps(start, end, delivered), nil
}

// gaps yields the ids of [start, end] not present in have, ascending. It
// never steps past end, so end may be math.MaxInt64.
func gaps(start, end int64, have []int64) iter.Seq[int64] {
	sorted := slices.Clone(have)
	slices.Sort(sorted)

	return func(yield func(int64) bool) {
		if end < start {
			return
		}
		j := 0
		for pushID := start; ; pushID++ {
			for j < len(sorted) && sorted[j] < pushID {
				j++
			}
			if j >= len(sorted) || sorted[j] != pushID {
				if !yield(pushID) {
					return
				}
			}
			if pushID == end {
				return
			}
		}
	}
}
