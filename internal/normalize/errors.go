package normalize

import (
	"errors"
	"fmt"

	"basegraph.app/committelemetry/internal/model"
)

// ErrIgnoredMessage marks a well-formed queue message that carries no push
// to report, such as a non-changegroup notification.
var ErrIgnoredMessage = errors.New("message ignored")

// MalformedRecordError reports a raw record that can never become a valid
// push. It is not retry-eligible.
type MalformedRecordError struct {
	Source model.Source
	Field  string
	Reason string
	Err    error
}

func (e *MalformedRecordError) Error() string {
	msg := fmt.Sprintf("malformed %s record", e.Source)
	if e.Field != "" {
		msg += ": " + e.Field
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedRecordError) Unwrap() error {
	return e.Err
}

// IsMalformed reports whether err is, or wraps, a MalformedRecordError.
func IsMalformed(err error) bool {
	var target *MalformedRecordError
	return errors.As(err, &target)
}

func malformed(source model.Source, field, reason string) error {
	return &MalformedRecordError{Source: source, Field: field, Reason: reason}
}
