// Package domainerrors defines the coded error type shared by every Veriqan
// component. Services and stores return these instead of raising ad-hoc
// errors so callers can branch on the code, and the transport layer can map
// codes to HTTP statuses in one place.
package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	// CodeValidation marks malformed input rejected before any side effect.
	CodeValidation Code = "validation"
	// CodeInvalidInput marks a field-level parse failure at a trust boundary.
	CodeInvalidInput Code = "invalid_input"
	CodeBadRequest   Code = "bad_request"
	CodeNotFound     Code = "not_found"
	// CodeConflict marks a write-write race detected at commit; the caller
	// may retry.
	CodeConflict Code = "conflict"
	// CodeAlreadyDecided marks a review decision lost to another reviewer.
	// Distinct from CodeConflict: retrying will not help.
	CodeAlreadyDecided Code = "already_decided"
	// CodeStageFailure marks a domain failure reported by an external
	// processing stage.
	CodeStageFailure Code = "stage_failure"
	// CodePersistence marks storage unavailability, never a domain outcome.
	CodePersistence Code = "persistence"
	CodeCancelled   Code = "cancelled"
	CodeTimeout     Code = "timeout"
	CodeInternal    Code = "internal"
)

// PipelineError is the coded error carried across component boundaries.
type PipelineError struct {
	Code    Code
	Message string
	cause   error
}

func (e PipelineError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e PipelineError) Unwrap() error { return e.cause }

// New creates a coded error with no underlying cause.
func New(code Code, message string) error {
	return PipelineError{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error, preserving the
// chain for errors.Is / errors.As.
func Wrap(err error, code Code, message string) error {
	return PipelineError{Code: code, Message: message, cause: err}
}

// HasCode reports whether err (anywhere in its chain) carries the given code.
func HasCode(err error, code Code) bool {
	var pe PipelineError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// CodeOf extracts the code from err, defaulting to CodeInternal for errors
// that did not originate in this package.
func CodeOf(err error) Code {
	var pe PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeInternal
}

// Is defers to the standard library; exposed so call sites reading
// dErrors.Is(...) do not need a second errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

// ToHTTPStatus maps an error code to the HTTP status the transport layer
// should respond with.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeInvalidInput, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConflict, CodeAlreadyDecided:
		return http.StatusConflict
	case CodeCancelled:
		return 499 // client closed request
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodePersistence:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
