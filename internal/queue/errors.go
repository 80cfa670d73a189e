package queue

import (
	"errors"
	"fmt"
)

// ValidationError reports a request that was rejected before any row was
// written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Sentinel errors returned by Manager methods.
var (
	ErrTemplateNotFound  = errors.New("template not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrEmailNotFound     = errors.New("queued email not found")

	// ErrInvalidSchedule is a *ValidationError, so errors.As with
	// *ValidationError matches it as well as errors.Is.
	ErrInvalidSchedule error = &ValidationError{Field: "scheduled_at", Reason: "must be in the future and within 10 years"}
)

// IsValidation reports whether err is a request validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
