package ping

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"basegraph.app/committelemetry/internal/model"
)

// Document is the wire shape of a ping. Field names are fixed by the
// registered schema; renaming any of them gets pings rejected at ingestion.
type Document struct {
	SchemaVersion   int                      `json:"schema_version" jsonschema:"const=1"`
	Push            PushDocument             `json:"push"`
	Classifications []ClassificationDocument `json:"classifications" jsonschema:"description=One entry per commit in commit order"`
	GeneratedAt     string                   `json:"generated_at" jsonschema:"format=date-time"`
}

type PushDocument struct {
	PushID        int64            `json:"push_id" jsonschema:"minimum=1"`
	RepoURL       string           `json:"repo_url" jsonschema:"format=uri"`
	PushTimestamp int64            `json:"push_timestamp" jsonschema:"description=Seconds since the epoch in UTC"`
	Pusher        string           `json:"pusher"`
	Commits       []CommitDocument `json:"commits" jsonschema:"minItems=1"`
}

type CommitDocument struct {
	Hash         string   `json:"hash" jsonschema:"minLength=1"`
	Author       string   `json:"author"`
	Message      string   `json:"message"`
	ChangedPaths []string `json:"changed_paths"`
}

type ClassificationDocument struct {
	ReviewSystem string `json:"review_system" jsonschema:"enum=none,enum=not_applicable,enum=phabricator,enum=reviewboard,enum=bugzilla_attachment"`
	ReviewID     string `json:"review_id,omitempty"`
}

// ValidationError lists everything wrong with a ping.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid ping: %v", e.Problems)
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// ToDocument maps a ping onto its wire shape.
func ToDocument(p model.Ping) Document {
	commits := make([]CommitDocument, len(p.Push.Commits))
	for i, c := range p.Push.Commits {
		paths := c.ChangedPaths
		if paths == nil {
			paths = []string{}
		}
		commits[i] = CommitDocument{
			Hash:         c.Hash,
			Author:       c.Author,
			Message:      c.Message,
			ChangedPaths: paths,
		}
	}

	classifications := make([]ClassificationDocument, len(p.Classifications))
	for i, c := range p.Classifications {
		classifications[i] = ClassificationDocument{
			ReviewSystem: string(c.System),
			ReviewID:     c.ReviewID,
		}
	}

	return Document{
		SchemaVersion: p.SchemaVersion,
		Push: PushDocument{
			PushID:        p.Push.PushID,
			RepoURL:       p.Push.RepoURL,
			PushTimestamp: p.Push.PushTimestamp,
			Pusher:        p.Push.Pusher,
			Commits:       commits,
		},
		Classifications: classifications,
		GeneratedAt:     p.GeneratedAt.UTC().Format(time.RFC3339),
	}
}

// Validate checks that a ping is well-formed for the registered schema.
func Validate(p model.Ping) error {
	var problems []string

	if p.SchemaVersion != SchemaVersion {
		problems = append(problems, fmt.Sprintf("schema_version %d, want %d", p.SchemaVersion, SchemaVersion))
	}
	if p.Push.PushID <= 0 {
		problems = append(problems, "push.push_id must be positive")
	}
	if p.Push.RepoURL == "" {
		problems = append(problems, "push.repo_url is empty")
	}
	if len(p.Push.Commits) == 0 {
		problems = append(problems, "push.commits is empty")
	}
	if len(p.Classifications) != len(p.Push.Commits) {
		problems = append(problems, fmt.Sprintf("%d classifications for %d commits", len(p.Classifications), len(p.Push.Commits)))
	}
	for i, c := range p.Push.Commits {
		if c.Hash == "" {
			problems = append(problems, fmt.Sprintf("push.commits[%d].hash is empty", i))
		}
	}
	for i, c := range p.Classifications {
		if !c.System.IsValid() {
			problems = append(problems, fmt.Sprintf("classifications[%d].review_system %q is unknown", i, c.System))
			continue
		}
		if c.HasReviewID() && (c.System == model.ReviewSystemNone || c.System == model.ReviewSystemNotApplicable) {
			problems = append(problems, fmt.Sprintf("classifications[%d] has a review id without a review system", i))
		}
	}
	if p.GeneratedAt.IsZero() {
		problems = append(problems, "generated_at is unset")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Marshal validates a ping and renders its wire document.
func Marshal(p model.Ping) ([]byte, error) {
	if err := Validate(p); err != nil {
		return nil, err
	}
	body, err := json.Marshal(ToDocument(p))
	if err != nil {
		return nil, fmt.Errorf("marshal ping: %w", err)
	}
	return body, nil
}

// DocumentID derives the ingestion document id from the push identity, so
// every delivery of the same push carries the same id and the ingestion
// service can de-duplicate them.
func DocumentID(key model.PushKey) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(key.String())).String()
}
