package models

import (
	"errors"
	"fmt"
)

// ErrAlertNotFound is returned by the alert store when a deactivate
// targets an id that does not exist.
var ErrAlertNotFound = errors.New("alert not found")

// ValidationError describes a rejected setAlert payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
