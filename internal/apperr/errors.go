// Package apperr defines the error taxonomy shared by the credential store,
// the notification store, the AI router and the façade.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports malformed or inconsistent input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error on %s: %s", e.Field, e.Message)
}

// Validation builds a ValidationError for field.
func Validation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports that a referenced record does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// AuthError reports a missing, expired or unrefreshable credential. Callers
// use it to prompt for re-authorization.
type AuthError struct {
	ServiceID string
	Message   string
	Err       error
}

func (e *AuthError) Error() string {
	msg := "auth error"
	if e.ServiceID != "" {
		msg += " for service " + e.ServiceID
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// InvalidStateError reports an illegal status transition.
type InvalidStateError struct {
	From string
	To   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// BackendFailure records why one upstream backend attempt failed.
type BackendFailure struct {
	Backend string `json:"backend"`
	Reason  string `json:"reason"`

	// Auth is set when the backend rejected or lacked credentials.
	Auth bool `json:"auth,omitempty"`
}

// ServiceError reports an upstream failure after every avenue was exhausted.
type ServiceError struct {
	Failures []BackendFailure
}

func (e *ServiceError) Error() string {
	if len(e.Failures) == 0 {
		return "service error"
	}
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Backend+": "+f.Reason)
	}
	return "service error: " + strings.Join(parts, "; ")
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsNotFound reports whether err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsAuth reports whether err is or wraps an AuthError.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsInvalidState reports whether err is or wraps an InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// IsService reports whether err is or wraps a ServiceError.
func IsService(err error) bool {
	var target *ServiceError
	return errors.As(err, &target)
}
