package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

type statusErr struct{ status int }

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", e.status) }
func (e statusErr) HTTPStatus() int { return e.status }

// TestNewCLIError creates and validates a CLI error
func TestNewCLIError(t *testing.T) {
	cause := errors.New("underlying error")
	err := NewCLIError(ErrorTypeValidation, "Test error", cause)

	if err.Type != ErrorTypeValidation {
		t.Errorf("Expected type %s, got %s", ErrorTypeValidation, err.Type)
	}
	if err.Message != "Test error" {
		t.Errorf("Expected message 'Test error', got '%s'", err.Message)
	}
	if !errors.Is(err, cause) {
		t.Error("Cause should be reachable through Unwrap")
	}
}

func TestWithSuggestion(t *testing.T) {
	err := NewCLIError(ErrorTypeValidation, "Test", nil)
	if err.HasSuggestion() {
		t.Fatal("new error should not have a suggestion")
	}

	result := err.WithSuggestion("Try something else")
	if !result.HasSuggestion() || result.Suggestion != "Try something else" {
		t.Errorf("unexpected suggestion %q", result.Suggestion)
	}
}

func TestConstructorsCarrySuggestions(t *testing.T) {
	tests := []struct {
		name string
		err  *CLIError
		typ  ErrorType
	}{
		{"network", NetworkError("down"), ErrorTypeNetwork},
		{"timeout", TimeoutError(), ErrorTypeTimeout},
		{"auth", AuthError("bad"), ErrorTypeAuth},
		{"not authenticated", NotAuthenticatedError(), ErrorTypeNotAuthenticated},
		{"session expired", SessionExpiredError(), ErrorTypeSessionExpired},
		{"queue full", QueueFullError(), ErrorTypeQueueFull},
		{"forbidden", ForbiddenError(), ErrorTypeForbidden},
		{"server", ServerError(), ErrorTypeServer},
		{"conflict", ConflictError("x"), ErrorTypeConflict},
		{"stale", StaleCacheWarning("jobs", nil), ErrorTypeStaleCache},
		{"credits", InsufficientCreditsError(0), ErrorTypeInsufficientFunds},
		{"generation", GenerationTimeoutError("Cover letter"), ErrorTypeGenerationTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.typ {
				t.Errorf("Expected type %s, got %s", tt.typ, tt.err.Type)
			}
			if !tt.err.HasSuggestion() {
				t.Error("Expected a suggestion")
			}
		})
	}
}

func TestRateLimitError(t *testing.T) {
	err := RateLimitError(30)
	if err.RetryAfter != 30 {
		t.Errorf("Expected RetryAfter 30, got %d", err.RetryAfter)
	}
	if !strings.Contains(err.Suggestion, "30") {
		t.Error("Suggestion should mention the wait time")
	}
}

func TestCategorizeError_Typed(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorType
	}{
		{http.StatusUnauthorized, ErrorTypeSessionExpired},
		{http.StatusForbidden, ErrorTypeForbidden},
		{http.StatusNotFound, ErrorTypeNotFound},
		{http.StatusNotAcceptable, ErrorTypeNotFound},
		{http.StatusConflict, ErrorTypeConflict},
		{http.StatusTooManyRequests, ErrorTypeRateLimit},
		{http.StatusBadGateway, ErrorTypeServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			wrapped := fmt.Errorf("list jobs: %w", statusErr{tt.status})
			got := CategorizeError(wrapped)
			if got.Type != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got.Type)
			}
			if got.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, got.StatusCode)
			}
		})
	}
}

func TestCategorizeError_UnmappedStatusFallsBackToMessage(t *testing.T) {
	got := CategorizeError(statusErr{http.StatusBadRequest})
	if got.Type != ErrorTypeUnknown {
		t.Errorf("Expected unknown, got %s", got.Type)
	}
}

func TestCategorizeError_Messages(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorType
	}{
		{"dial tcp: connection refused", ErrorTypeNetwork},
		{"lookup api: no such host", ErrorTypeNetwork},
		{"i/o timeout", ErrorTypeTimeout},
		{"JWT expired", ErrorTypeSessionExpired},
		{"unauthorized", ErrorTypeAuth},
		{"permission denied for table job_tracker", ErrorTypeForbidden},
		{"rate limit hit", ErrorTypeRateLimit},
		{"something odd", ErrorTypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := CategorizeError(errors.New(tt.msg)); got.Type != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got.Type)
			}
		})
	}
}

func TestCategorizeError_PassesThroughCLIError(t *testing.T) {
	orig := QueueFullError()
	if got := CategorizeError(fmt.Errorf("wrap: %w", orig)); got != orig {
		t.Error("Expected the wrapped CLIError to be returned")
	}
	if CategorizeError(nil) != nil {
		t.Error("Expected nil for nil error")
	}
	if got := CategorizeError(context.DeadlineExceeded); got.Type != ErrorTypeTimeout {
		t.Errorf("Expected timeout, got %s", got.Type)
	}
}

func TestFormatError(t *testing.T) {
	if FormatError(nil) != "" {
		t.Error("Expected empty string for nil")
	}

	msg := FormatError(RateLimitError(12))
	for _, want := range []string{"rate_limit", "Suggestion", "Retry in: 12 seconds"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Expected %q in %q", want, msg)
		}
	}

	msg = FormatError(errors.New("boom"))
	if !strings.HasPrefix(msg, "Error: boom") {
		t.Errorf("Unexpected format %q", msg)
	}
}
