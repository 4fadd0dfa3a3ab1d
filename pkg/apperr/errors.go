// Package apperr defines the error taxonomy shared by every SDK component.
//
// Errors are classified by sentinel kind so callers can branch with
// errors.Is regardless of whether the failure was detected locally or
// reported by the remote backend.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrValidation classifies malformed queries or options, detected before any network call.
	ErrValidation = errors.New("bfast validation error")
	// ErrAuth classifies rejected or expired credentials.
	ErrAuth = errors.New("bfast auth error")
	// ErrNotFound classifies lookups by identity that matched nothing.
	ErrNotFound = errors.New("bfast not found")
	// ErrNetwork classifies transport failures, timeouts and server-side faults.
	ErrNetwork = errors.New("bfast network error")
	// ErrCache classifies cache store failures. It is logged, never returned from reads.
	ErrCache = errors.New("bfast cache error")
	// ErrConfig classifies missing or invalid application credentials.
	ErrConfig = errors.New("bfast config error")
)

// Parse error codes the SDK reacts to.
const (
	CodeObjectNotFound      = 101
	CodeInvalidQuery        = 102
	CodeInvalidJSON         = 107
	CodeInvalidSessionToken = 209
	CodeOperationForbidden  = 119
)

// Error is a classified failure, optionally carrying the remote status and code.
type Error struct {
	Kind    error
	Code    int
	Status  int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	label := e.Message
	if label == "" && e.Kind != nil {
		label = e.Kind.Error()
	}
	if e.Status != 0 {
		label = fmt.Sprintf("%s (status %d, code %d)", label, e.Status, e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", label, e.Cause)
	}
	return label
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return e != nil && e.Kind != nil && target == e.Kind
}

// Validation returns an ErrValidation with message.
func Validation(format string, args ...any) error {
	return newKind(ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an ErrNotFound with message.
func NotFound(format string, args ...any) error {
	return newKind(ErrNotFound, fmt.Sprintf(format, args...))
}

// Config returns an ErrConfig with message.
func Config(format string, args ...any) error {
	return newKind(ErrConfig, fmt.Sprintf(format, args...))
}

// Network wraps a transport-level failure.
func Network(cause error, message string) error {
	return &Error{Kind: ErrNetwork, Message: message, Cause: cause}
}

// Cache wraps a cache store failure.
func Cache(cause error, message string) error {
	return &Error{Kind: ErrCache, Message: message, Cause: cause}
}

func newKind(kind error, message string) error {
	if message == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, message)
}

// FromResponse classifies a non-2xx backend response.
// code is the Parse error code from the response body, 0 when absent.
func FromResponse(status, code int, message string) error {
	kind := classify(status, code)
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: kind, Code: code, Status: status, Message: message}
}

func classify(status, code int) error {
	switch code {
	case CodeObjectNotFound:
		return ErrNotFound
	case CodeInvalidSessionToken, CodeOperationForbidden:
		return ErrAuth
	case CodeInvalidQuery, CodeInvalidJSON:
		return ErrValidation
	}
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ErrAuth
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ErrValidation
	default:
		return ErrNetwork
	}
}

// StatusOf returns the remote HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

// CodeOf returns the Parse error code carried by err, or 0.
func CodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
