package queue

import (
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Stream entry field names.
const (
	fieldBody       = "body"
	fieldAttempt    = "attempt"
	fieldLastError  = "last_error"
	fieldEnqueued   = "enqueued_at"
	fieldError      = "error"
	fieldOriginalID = "original_id"
	fieldFailedAt   = "failed_at"
)

// Envelope is one stream entry carrying an hg push notification.
type Envelope struct {
	ID        string
	Body      []byte
	Attempt   int
	LastError string
	Raw       redis.XMessage
}

// ParseEnvelope reads a stream entry. The body is left opaque; only the
// fields the queue itself needs are validated here.
func ParseEnvelope(msg redis.XMessage) (Envelope, error) {
	raw, ok := msg.Values[fieldBody]
	if !ok {
		return Envelope{}, fmt.Errorf("missing %s", fieldBody)
	}
	body := fmt.Sprint(raw)
	if body == "" {
		return Envelope{}, fmt.Errorf("empty %s", fieldBody)
	}

	attempt, err := parseOptionalInt(msg.Values, fieldAttempt)
	if err != nil {
		return Envelope{}, err
	}
	if attempt <= 0 {
		attempt = 1
	}

	return Envelope{
		ID:        msg.ID,
		Body:      []byte(body),
		Attempt:   attempt,
		LastError: parseOptionalString(msg.Values, fieldLastError),
		Raw:       msg,
	}, nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func envelopeValues(body []byte, attempt int) map[string]any {
	return map[string]any{
		fieldBody:     string(body),
		fieldAttempt:  attempt,
		fieldEnqueued: time.Now().UTC().Format(time.RFC3339),
	}
}

// rawValues copies a stream entry's fields, for dead-lettering entries that
// could not be parsed.
func rawValues(msg redis.XMessage) map[string]any {
	values := make(map[string]any, len(msg.Values)+3)
	for k, v := range msg.Values {
		values[k] = v
	}
	return values
}
