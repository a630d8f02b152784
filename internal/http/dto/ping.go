package dto

import "encoding/json"

type ChangesetPingRequest struct {
	ChangesetID string  `json:"changeset_id" binding:"required"`
	RepoURL     *string `json:"repo_url,omitempty"`
}

type ChangesetPingResponse struct {
	Changeset  string          `json:"changeset"`
	PushID     int64           `json:"push_id"`
	DocumentID string          `json:"document_id"`
	Ping       json.RawMessage `json:"ping"`
}
