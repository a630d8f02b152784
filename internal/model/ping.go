package model

import "time"

// Ping is the telemetry document for one push. Classifications line up 1:1
// with Push.Commits. GeneratedAt is build time and is not part of the push
// identity, so duplicate deliveries of one push differ only there.
type Ping struct {
	SchemaVersion   int
	Push            Push
	Classifications []ReviewClassification
	GeneratedAt     time.Time
}
