// Package llmerrors classifies model transport failures into typed errors so callers
// can decide between retrying, surfacing, and ending a run.
package llmerrors

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// ErrorType is the category of a transport failure.
type ErrorType int8

const (
	// ErrorTypeRateLimit is a 429 or quota error.
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient is a 5xx, EOF, reset or network timeout.
	ErrorTypeTransient
	// ErrorTypeEmptyResponse is a successful call that returned neither text nor tool calls.
	ErrorTypeEmptyResponse
	// ErrorTypeAuth is a 401/403.
	ErrorTypeAuth
	// ErrorTypeBadPrompt is a 400-class rejection of the request itself.
	ErrorTypeBadPrompt
	// ErrorTypeUnknown is anything unclassified.
	ErrorTypeUnknown
	// ErrorTypeServiceUnavailable is emitted once retries are exhausted.
	ErrorTypeServiceUnavailable
)

//nolint:gochecknoglobals // label table
var typeNames = [...]string{
	ErrorTypeRateLimit:          "rate_limit",
	ErrorTypeTransient:          "transient",
	ErrorTypeEmptyResponse:      "empty_response",
	ErrorTypeAuth:               "auth",
	ErrorTypeBadPrompt:          "bad_prompt",
	ErrorTypeUnknown:            "unknown",
	ErrorTypeServiceUnavailable: "service_unavailable",
}

// String returns the metric label for et.
func (et ErrorType) String() string {
	if et < 0 || int(et) >= len(typeNames) {
		return "invalid"
	}
	return typeNames[et]
}

// Error is a classified transport error.
type Error struct {
	Err        error
	Message    string
	BodyStub   string // leading part of the response body, never the full payload
	Type       ErrorType
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type, e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type, e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable is true for everything except auth, bad prompt and exhausted service.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeServiceUnavailable:
		return false
	default:
		return true
	}
}

// Is reports whether err is a classified error of the given type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	return errors.As(err, &llmErr) && llmErr.Type == errorType
}

// TypeOf returns the classified type, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}

// IsRetryable reports whether err should be retried. Context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var llmErr *Error
	return errors.As(err, &llmErr) && llmErr.IsRetryable()
}

// NewError creates a classified error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{Type: errorType, Message: message}
}

// NewErrorWithStatus creates a classified error carrying an HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{Type: errorType, StatusCode: statusCode, Message: message}
}

// NewErrorWithCause wraps cause in a classified error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{Type: errorType, Err: cause, Message: message}
}

// NewServiceUnavailableError marks cause as terminal after attempts retries.
func NewServiceUnavailableError(cause error, attempts int) *Error {
	return &Error{
		Type:    ErrorTypeServiceUnavailable,
		Err:     cause,
		Message: fmt.Sprintf("service unavailable after %d attempts", attempts),
	}
}

// TypeForStatus maps an HTTP status code to an error type.
func TypeForStatus(status int) ErrorType {
	switch {
	case status == 429:
		return ErrorTypeRateLimit
	case status == 401 || status == 403:
		return ErrorTypeAuth
	case status == 408 || status >= 500:
		return ErrorTypeTransient
	case status >= 400:
		return ErrorTypeBadPrompt
	default:
		return ErrorTypeUnknown
	}
}

// Classify wraps err using the status code when known and the error chain otherwise.
// Already-classified errors pass through unchanged.
func Classify(err error, status int, provider string) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	t := ErrorTypeUnknown
	if status > 0 {
		t = TypeForStatus(status)
	} else {
		var netErr net.Error
		msg := strings.ToLower(err.Error())
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			t = ErrorTypeTransient
		case errors.As(err, &netErr) && netErr.Timeout():
			t = ErrorTypeTransient
		case strings.Contains(msg, "connection reset"), strings.Contains(msg, "connection refused"):
			t = ErrorTypeTransient
		case strings.Contains(msg, "rate limit"), strings.Contains(msg, "quota"):
			t = ErrorTypeRateLimit
		}
	}
	return &Error{
		Type:       t,
		StatusCode: status,
		Err:        err,
		Message:    fmt.Sprintf("%s: %v", provider, err),
	}
}

// SanitizePrompt shortens a large prompt to head, tail and a hash for logs.
func SanitizePrompt(prompt string, maxChars int) string {
	if len(prompt) <= maxChars {
		return prompt
	}
	half := max(maxChars/2, 100)
	if 2*half >= len(prompt) {
		return prompt
	}
	hash := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%s...[%d chars, hash:%x]...%s",
		prompt[:half], len(prompt), hash[:8], prompt[len(prompt)-half:])
}
