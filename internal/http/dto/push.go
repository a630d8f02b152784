package dto

type SubmitPushResponse struct {
	Enqueued  bool    `json:"enqueued"`
	MessageID string  `json:"message_id,omitempty"`
	RepoURL   string  `json:"repo_url,omitempty"`
	PushIDs   []int64 `json:"push_ids,omitempty"`
	Ignored   string  `json:"ignored,omitempty"`
}
