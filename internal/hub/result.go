package hub

import (
	"errors"

	"go.uber.org/zap"

	"github.com/nhle/notifyhub/internal/apperr"
)

// Error codes carried by CommandError.
const (
	CodeValidation   = "VALIDATION_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeAuth         = "AUTH_ERROR"
	CodeInvalidState = "INVALID_STATE"
	CodeService      = "SERVICE_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
)

// CommandError is the structured failure of a command.
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Field names the offending input of a VALIDATION_ERROR.
	Field string `json:"field,omitempty"`

	// Backends lists the upstream failures of a SERVICE_ERROR.
	Backends []apperr.BackendFailure `json:"backends,omitempty"`

	// ServiceID names the service of an AUTH_ERROR.
	ServiceID string `json:"serviceId,omitempty"`
}

func (e *CommandError) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the outcome of a command: exactly one of Data and Error is set.
type Result[T any] struct {
	Data  *T            `json:"data,omitempty"`
	Error *CommandError `json:"error,omitempty"`
}

// OK reports whether the command succeeded.
func (r Result[T]) OK() bool {
	return r.Error == nil
}

// toCommandError maps err onto the taxonomy. Anything outside it is an
// internal error whose details stay in the log.
func toCommandError(err error, logger *zap.Logger, command string) *CommandError {
	var (
		verr  *apperr.ValidationError
		nferr *apperr.NotFoundError
		aerr  *apperr.AuthError
		serr  *apperr.InvalidStateError
		uperr *apperr.ServiceError
	)
	switch {
	case errors.As(err, &verr):
		return &CommandError{Code: CodeValidation, Message: verr.Message, Field: verr.Field}
	case errors.As(err, &nferr):
		return &CommandError{Code: CodeNotFound, Message: nferr.Error()}
	case errors.As(err, &aerr):
		return &CommandError{Code: CodeAuth, Message: aerr.Message, ServiceID: aerr.ServiceID}
	case errors.As(err, &serr):
		return &CommandError{Code: CodeInvalidState, Message: serr.Error()}
	case errors.As(err, &uperr):
		backends := append([]apperr.BackendFailure{}, uperr.Failures...)
		return &CommandError{Code: CodeService, Message: "all backends failed", Backends: backends}
	}

	logger.Error("command failed", zap.String("command", command), zap.Error(err))
	return &CommandError{Code: CodeInternal, Message: "internal error"}
}

func result[T any](logger *zap.Logger, command string, v *T, err error) Result[T] {
	if err != nil {
		return Result[T]{Error: toCommandError(err, logger, command)}
	}
	return Result[T]{Data: v}
}
