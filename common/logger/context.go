package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so a push id set once at the top of
// message handling shows up on every log line below it.
type LogFields struct {
	PushID    *int64  // Pushlog push id
	RepoURL   *string // Canonical repository URL
	MessageID *string // Redis stream message ID
	Changeset *string // Changeset hash being inspected
	Component string  // Component name, e.g. "committelemetry.worker"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.PushID != nil {
		result.PushID = new.PushID
	}
	if new.RepoURL != nil {
		result.RepoURL = new.RepoURL
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.Changeset != nil {
		result.Changeset = new.Changeset
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{PushID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen bytes, appending "..." if truncated.
// Used for raw payloads that end up in logs and DLQ entries.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
