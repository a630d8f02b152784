package normalize

import (
	"encoding/json"
	"fmt"
	"strings"

	"basegraph.app/committelemetry/internal/model"
)

// MessageTypeChangegroup is the hg push notification type that announces new
// changesets in a repository.
const MessageTypeChangegroup = "changegroup.1"

// Changeset is a changeset as both hgweb and the push notifications render it.
// Pointers distinguish absent fields from empty ones.
type Changeset struct {
	Node    *string  `json:"node"`
	Author  string   `json:"author"`
	Desc    *string  `json:"desc"`
	Files   []string `json:"files"`
	Parents []string `json:"parents"`
}

// PushlogEntry is one push of a json-pushes?version=2&full=1 response.
type PushlogEntry struct {
	Date       *int64      `json:"date"`
	User       string      `json:"user"`
	Changesets []Changeset `json:"changesets"`
}

// Normalize turns a raw record from either source into the canonical push.
//
// Queue records carry an hg push notification; RawPushRecord.PushID selects
// the push inside it (zero means the notification must carry exactly one).
// Pushlog records carry a single pushlog entry; the push id and repository
// come from the record itself.
func Normalize(raw model.RawPushRecord) (model.Push, error) {
	switch raw.Source {
	case model.SourceQueue:
		n, err := ParseNotification(raw.Body)
		if err != nil {
			return model.Push{}, err
		}
		p, err := n.Select(raw.PushID)
		if err != nil {
			return model.Push{}, err
		}
		return FromNotification(n, p)
	case model.SourcePushlog:
		return FromPushlogBody(raw.RepoURL, raw.PushID, raw.Body)
	default:
		return model.Push{}, fmt.Errorf("normalize: unknown source %q", raw.Source)
	}
}

// FromPushlogBody decodes and normalizes one pushlog entry.
func FromPushlogBody(repoURL string, pushID int64, body []byte) (model.Push, error) {
	var entry PushlogEntry
	if err := json.Unmarshal(body, &entry); err != nil {
		return model.Push{}, &MalformedRecordError{Source: model.SourcePushlog, Reason: "invalid json", Err: err}
	}
	return FromPushlog(repoURL, pushID, entry)
}

// FromPushlog normalizes a decoded pushlog entry.
func FromPushlog(repoURL string, pushID int64, entry PushlogEntry) (model.Push, error) {
	const source = model.SourcePushlog

	if pushID <= 0 {
		return model.Push{}, malformed(source, "push_id", "must be positive")
	}
	repoURL = canonicalRepoURL(repoURL)
	if repoURL == "" {
		return model.Push{}, malformed(source, "repo_url", "missing")
	}
	if entry.Date == nil {
		return model.Push{}, malformed(source, "date", "missing")
	}

	commits, err := commitsFrom(source, entry.Changesets)
	if err != nil {
		return model.Push{}, err
	}

	return model.Push{
		PushID:        pushID,
		RepoURL:       repoURL,
		PushTimestamp: *entry.Date,
		Pusher:        entry.User,
		Commits:       commits,
	}, nil
}

func commitsFrom(source model.Source, changesets []Changeset) ([]model.Commit, error) {
	if len(changesets) == 0 {
		return nil, malformed(source, "changesets", "push has no commits")
	}

	commits := make([]model.Commit, 0, len(changesets))
	for i, cs := range changesets {
		if cs.Node == nil || strings.TrimSpace(*cs.Node) == "" {
			return nil, malformed(source, fmt.Sprintf("changesets[%d].node", i), "missing")
		}
		if cs.Desc == nil {
			return nil, malformed(source, fmt.Sprintf("changesets[%d].desc", i), "missing")
		}
		commits = append(commits, model.Commit{
			Hash:         *cs.Node,
			Author:       cs.Author,
			Message:      *cs.Desc,
			ChangedPaths: copyStrings(cs.Files),
			Parents:      copyStrings(cs.Parents),
		})
	}
	return commits, nil
}

// Repository URLs arrive with and without a trailing slash depending on the
// source; both must identify the same push.
func canonicalRepoURL(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}

func copyStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
