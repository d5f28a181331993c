// File: internal/driver/errors.go
package driver

import (
	"errors"
	"fmt"
)

// Error classes surfaced by the controller. Callers match them with errors.Is
// and decide whether to abort the run, skip the actor, or skip the item.
var (
	// ErrDriverUnavailable means the browser binary could not be located or started. Fatal for a run.
	ErrDriverUnavailable = errors.New("browser driver unavailable")
	// ErrAuthenticationTimeout means the landing page was not reached after submitting credentials.
	ErrAuthenticationTimeout = errors.New("authentication timed out")
	// ErrElementNotFound means a required element never rendered within the wait budget.
	ErrElementNotFound = errors.New("element not found")
	// ErrFormFieldMissing means a required form field was absent.
	ErrFormFieldMissing = errors.New("form field missing")
	// ErrModalTimeout means a confirmation dialog did not become visible in time.
	ErrModalTimeout = errors.New("modal did not appear")
	// ErrSessionBound means Login was called on a session that already has an identity.
	ErrSessionBound = errors.New("session already bound to an identity")
	// ErrSessionReleased means the session was used after Release.
	ErrSessionReleased = errors.New("session released")
)

// Error records the failing operation alongside its error class and cause.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the class and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// FormFieldMissingError names the required field that could not be found.
type FormFieldMissingError struct {
	Field   string
	Locator Locator
	Err     error
}

func (e *FormFieldMissingError) Error() string {
	msg := fmt.Sprintf("required field %q (%s) not found", e.Field, e.Locator)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FormFieldMissingError) Is(target error) bool {
	return target == ErrFormFieldMissing
}

func (e *FormFieldMissingError) Unwrap() error { return e.Err }
