package normalize

import (
	"encoding/json"
	"fmt"

	"basegraph.app/committelemetry/internal/model"
)

// Notification is an hg push notification as published on the push exchange.
type Notification struct {
	Type string           `json:"type"`
	Data NotificationData `json:"data"`
}

type NotificationData struct {
	RepoURL       string             `json:"repo_url"`
	Heads         []string           `json:"heads"`
	PushlogPushes []NotificationPush `json:"pushlog_pushes"`
}

// NotificationPush references one pushlog push. Changesets are only present
// when the publisher inlined the full push; otherwise the push has to be
// fetched from the pushlog.
type NotificationPush struct {
	PushID          *int64      `json:"pushid"`
	Time            *int64      `json:"time"`
	User            string      `json:"user"`
	PushJSONURL     string      `json:"push_json_url,omitempty"`
	PushFullJSONURL string      `json:"push_full_json_url,omitempty"`
	Changesets      []Changeset `json:"changesets,omitempty"`
}

func (p NotificationPush) ID() int64 {
	if p.PushID == nil {
		return 0
	}
	return *p.PushID
}

// Inline reports whether the push carries its own changesets.
func (p NotificationPush) Inline() bool {
	return len(p.Changesets) > 0
}

// envelope unwraps the {"payload": {...}} routing wrapper some publishers add.
type envelope struct {
	Payload *json.RawMessage `json:"payload"`
}

// ParseNotification validates a queue message body. Malformed bodies return
// a *MalformedRecordError; notifications of other types return
// ErrIgnoredMessage.
func ParseNotification(body []byte) (Notification, error) {
	const source = model.SourceQueue

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Notification{}, &MalformedRecordError{Source: source, Reason: "invalid json", Err: err}
	}
	if env.Payload != nil {
		body = *env.Payload
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, &MalformedRecordError{Source: source, Reason: "invalid json", Err: err}
	}

	if n.Type == "" {
		return Notification{}, malformed(source, "type", "missing")
	}
	if n.Type != MessageTypeChangegroup {
		return Notification{}, fmt.Errorf("%w: type %s", ErrIgnoredMessage, n.Type)
	}

	n.Data.RepoURL = canonicalRepoURL(n.Data.RepoURL)
	if n.Data.RepoURL == "" {
		return Notification{}, malformed(source, "data.repo_url", "missing")
	}
	if len(n.Data.PushlogPushes) == 0 {
		return Notification{}, malformed(source, "data.pushlog_pushes", "no pushes")
	}
	for i, p := range n.Data.PushlogPushes {
		if p.PushID == nil || *p.PushID <= 0 {
			return Notification{}, malformed(source, fmt.Sprintf("data.pushlog_pushes[%d].pushid", i), "missing or not positive")
		}
		if p.Time == nil {
			return Notification{}, malformed(source, fmt.Sprintf("data.pushlog_pushes[%d].time", i), "missing")
		}
	}

	return n, nil
}

// Select returns the push with the given id, or the only push when id is zero.
func (n Notification) Select(pushID int64) (NotificationPush, error) {
	if pushID == 0 {
		if len(n.Data.PushlogPushes) != 1 {
			return NotificationPush{}, malformed(model.SourceQueue, "data.pushlog_pushes",
				fmt.Sprintf("expected 1 push, got %d", len(n.Data.PushlogPushes)))
		}
		return n.Data.PushlogPushes[0], nil
	}
	for _, p := range n.Data.PushlogPushes {
		if p.ID() == pushID {
			return p, nil
		}
	}
	return NotificationPush{}, malformed(model.SourceQueue, "data.pushlog_pushes", fmt.Sprintf("push %d not in message", pushID))
}

// FromNotification normalizes a push whose changesets were inlined in the
// notification.
func FromNotification(n Notification, p NotificationPush) (model.Push, error) {
	const source = model.SourceQueue

	if p.PushID == nil || *p.PushID <= 0 {
		return model.Push{}, malformed(source, "pushid", "missing or not positive")
	}
	if p.Time == nil {
		return model.Push{}, malformed(source, "time", "missing")
	}
	repoURL := canonicalRepoURL(n.Data.RepoURL)
	if repoURL == "" {
		return model.Push{}, malformed(source, "repo_url", "missing")
	}

	commits, err := commitsFrom(source, p.Changesets)
	if err != nil {
		return model.Push{}, err
	}

	return model.Push{
		PushID:        *p.PushID,
		RepoURL:       repoURL,
		PushTimestamp: *p.Time,
		Pusher:        p.User,
		Commits:       commits,
	}, nil
}
