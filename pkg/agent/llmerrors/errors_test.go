package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
)

func TestTypeForStatus(t *testing.T) {
	cases := map[int]ErrorType{
		429: ErrorTypeRateLimit,
		401: ErrorTypeAuth,
		403: ErrorTypeAuth,
		500: ErrorTypeTransient,
		503: ErrorTypeTransient,
		408: ErrorTypeTransient,
		400: ErrorTypeBadPrompt,
		413: ErrorTypeBadPrompt,
		200: ErrorTypeUnknown,
	}
	for status, want := range cases {
		if got := TypeForStatus(status); got != want {
			t.Errorf("status %d: got %s, want %s", status, got, want)
		}
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil, 0, "p") != nil {
		t.Error("nil stays nil")
	}

	err := Classify(io.ErrUnexpectedEOF, 0, "anthropic")
	if !Is(err, ErrorTypeTransient) {
		t.Errorf("Expected transient, got %v", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("Expected cause to be preserved")
	}

	err = Classify(fmt.Errorf("boom"), 429, "openai")
	if !Is(err, ErrorTypeRateLimit) {
		t.Errorf("Expected rate limit, got %v", err)
	}
	if !strings.Contains(err.Error(), "openai") {
		t.Errorf("Expected provider in message: %v", err)
	}

	already := NewError(ErrorTypeAuth, "bad key")
	if Classify(already, 500, "x") != error(already) {
		t.Error("Classified errors pass through")
	}

	if Classify(context.Canceled, 0, "x") != context.Canceled {
		t.Error("Cancellation passes through unclassified")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewError(ErrorTypeTransient, "x")) {
		t.Error("transient is retryable")
	}
	if IsRetryable(NewError(ErrorTypeAuth, "x")) {
		t.Error("auth is not retryable")
	}
	if IsRetryable(NewServiceUnavailableError(errors.New("x"), 3)) {
		t.Error("service unavailable is terminal")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("unclassified errors are not retried")
	}
	if IsRetryable(context.Canceled) {
		t.Error("cancellation is not retried")
	}
}

func TestTypeOf(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewError(ErrorTypeEmptyResponse, "nothing"))
	if TypeOf(wrapped) != ErrorTypeEmptyResponse {
		t.Errorf("Expected empty_response, got %s", TypeOf(wrapped))
	}
	if TypeOf(errors.New("x")) != ErrorTypeUnknown {
		t.Error("Expected unknown for plain error")
	}
}

func TestSanitizePrompt(t *testing.T) {
	short := "hello"
	if SanitizePrompt(short, 500) != short {
		t.Error("short prompts are unchanged")
	}
	long := strings.Repeat("a", 1000) + strings.Repeat("b", 1000)
	out := SanitizePrompt(long, 400)
	if !strings.Contains(out, "[2000 chars, hash:") {
		t.Errorf("Expected size marker, got %s", out[:80])
	}
	if !strings.HasPrefix(out, strings.Repeat("a", 200)) || !strings.HasSuffix(out, strings.Repeat("b", 200)) {
		t.Error("Expected head and tail to be kept")
	}
}

func TestErrorTypeString(t *testing.T) {
	if got := ErrorTypeServiceUnavailable.String(); got != "service_unavailable" {
		t.Errorf("got %q", got)
	}
	if got := ErrorType(42).String(); got != "invalid" {
		t.Errorf("got %q for out of range type", got)
	}
	if got := ErrorType(-1).String(); got != "invalid" {
		t.Errorf("got %q for negative type", got)
	}
}
