// Package errs holds the error taxonomy shared by the chat core.
//
// Validation and fetch failures are absorbed where they happen, so these
// values mostly reach logs and tests rather than users.
package errs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrEmptyUsername        = errors.New("username is required")
	ErrEmptyContent         = errors.New("message content is required")
	ErrNoSession            = errors.New("no session established")
	ErrAlreadyAuthenticated = errors.New("session already established")
	ErrNoCounterpart        = errors.New("no counterpart selected")
	ErrNotConnected         = errors.New("live channel not connected")
	ErrChannelRunning       = errors.New("live channel already running")
	ErrStaleResponse        = errors.New("response superseded by a newer request")
)

// ValidationError reports an empty or malformed required field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// FetchError reports a rejected directory or history request.
// StatusCode is zero when the request never got a response.
type FetchError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsFetch reports whether err is a FetchError.
func IsFetch(err error) bool {
	var f *FetchError
	return errors.As(err, &f)
}

// FromValidator converts the first failing field of a validator error into a
// ValidationError. causes maps lowercased field names to the sentinel that
// should be wrapped; fields without an entry wrap the validator's own error.
func FromValidator(err error, causes map[string]error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	field := strings.ToLower(fieldErrs[0].Field())
	cause, ok := causes[field]
	if !ok {
		cause = fieldErrs[0]
	}
	return &ValidationError{Field: field, Err: cause}
}
