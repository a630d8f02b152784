package model

import "fmt"

// Commit is a single changeset inside a push. Immutable once constructed.
type Commit struct {
	Hash         string
	Author       string
	Message      string // full commit description
	ChangedPaths []string
	Parents      []string
}

// IsMerge reports whether the changeset has more than one parent.
func (c Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

// Push is the canonical, source-agnostic representation of one repository push.
// Commits are in push order and never empty.
type Push struct {
	PushID        int64
	RepoURL       string
	PushTimestamp int64 // seconds since epoch, UTC
	Pusher        string
	Commits       []Commit
}

// PushKey identifies a push across every source it can arrive from.
type PushKey struct {
	RepoURL string
	PushID  int64
}

func (k PushKey) String() string {
	return fmt.Sprintf("%s#%d", k.RepoURL, k.PushID)
}

func (p Push) Key() PushKey {
	return PushKey{RepoURL: p.RepoURL, PushID: p.PushID}
}

// Source names where a raw push record came from.
type Source string

const (
	SourceQueue   Source = "queue"
	SourcePushlog Source = "pushlog"
)

// RawPushRecord is a source-specific payload plus the routing context it
// arrived with. It is not retained past normalization.
type RawPushRecord struct {
	Source  Source
	RepoURL string
	PushID  int64
	Body    []byte
}
