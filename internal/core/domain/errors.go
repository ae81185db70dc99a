// Package domain provides the canonical types and error taxonomy shared by the
// design pipeline, the listing generator and the publish orchestrator.
package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind represents the category of a pipeline or publish error.
type ErrorKind string

const (
	// KindConfiguration indicates missing or invalid credentials/config.
	// Checked eagerly, before any external call.
	KindConfiguration ErrorKind = "configuration"

	// KindValidation indicates a bad or missing upload.
	KindValidation ErrorKind = "validation"

	// KindStageFailure indicates a mandatory design pipeline stage failed.
	KindStageFailure ErrorKind = "stage_failure"

	// KindAdvisory indicates a non-mandatory step failed. Never aborts a run.
	KindAdvisory ErrorKind = "advisory_failure"

	// KindProviderTimeout indicates an external capability call timed out.
	KindProviderTimeout ErrorKind = "provider_timeout"

	// KindProvider indicates an external capability returned an error.
	KindProvider ErrorKind = "provider"

	// KindNotFound indicates a requested resource does not exist.
	KindNotFound ErrorKind = "not_found"
)

// ErrArtifactNotFound is returned by the artifact store when a role slot is empty.
var ErrArtifactNotFound = errors.New("artifact not found")

// Error is the canonical error for the service. Stage is only set for stage
// failures and advisory failures raised from inside a named step.
type Error struct {
	Kind    ErrorKind `json:"type"`
	Stage   string    `json:"stage,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`

	// StatusCode overrides the default HTTP status for Kind when non-zero.
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var msg string
	if e.Stage != "" {
		msg = fmt.Sprintf("%s (%s): %s", e.Kind, e.Stage, e.Message)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindProviderTimeout:
		return http.StatusGatewayTimeout
	case KindStageFailure, KindProvider:
		if IsTimeout(e.Err) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case KindConfiguration:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// NewError creates a new error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithStage sets the stage the error originated from.
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithCause sets the underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *Error) WithStatusCode(code int) *Error {
	e.StatusCode = code
	return e
}

// Convenience constructors

// ErrConfiguration creates a configuration error.
func ErrConfiguration(message string) *Error {
	return NewError(KindConfiguration, message)
}

// ErrValidation creates a validation error.
func ErrValidation(message string) *Error {
	return NewError(KindValidation, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *Error {
	return NewError(KindNotFound, message)
}

// StageFailure wraps cause as a failure of the named design pipeline stage.
func StageFailure(stage string, cause error) *Error {
	return &Error{
		Kind:    KindStageFailure,
		Stage:   stage,
		Message: stage + " stage failed",
		Err:     ClassifyProviderError(cause),
	}
}

// ClassifyProviderError converts context deadline errors into provider
// timeouts. Other errors are returned unchanged.
func ClassifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) && de.Kind == KindProviderTimeout {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindProviderTimeout, Message: "provider call timed out", Err: err}
	}
	return err
}

// IsTimeout reports whether err is, or wraps, a provider timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if IsKind(err, KindProviderTimeout) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsKind reports whether err is, or wraps, an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}
		if de.Kind == kind {
			return true
		}
		err = de.Err
	}
	return false
}

// AsError converts any error to an *Error, wrapping unknown errors as
// provider errors.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	if IsTimeout(err) {
		return &Error{Kind: KindProviderTimeout, Message: "provider call timed out", Err: err}
	}
	return &Error{Kind: KindProvider, Message: "unexpected error", Err: err}
}
