package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType categorizes different error types
type ErrorType string

const (
	// Network errors
	ErrorTypeNetwork ErrorType = "network"
	ErrorTypeTimeout ErrorType = "timeout"

	// Authentication errors
	ErrorTypeAuth             ErrorType = "auth"
	ErrorTypeNotAuthenticated ErrorType = "not_authenticated"
	ErrorTypeForbidden        ErrorType = "forbidden"
	ErrorTypeSessionExpired   ErrorType = "session_expired"
	ErrorTypeQueueFull        ErrorType = "queue_full"

	// Validation errors
	ErrorTypeValidation ErrorType = "validation"

	// Server errors
	ErrorTypeServer    ErrorType = "server"
	ErrorTypeNotFound  ErrorType = "not_found"
	ErrorTypeConflict  ErrorType = "conflict"
	ErrorTypeRateLimit ErrorType = "rate_limit"

	// Domain errors
	ErrorTypeStaleCache        ErrorType = "stale_cache"
	ErrorTypeInsufficientFunds ErrorType = "insufficient_credits"
	ErrorTypeGenerationTimeout ErrorType = "generation_timeout"

	ErrorTypeUnknown ErrorType = "unknown"
)

// StatusCoder is implemented by errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatus() int
}

// CLIError represents a structured error with context
type CLIError struct {
	Type       ErrorType
	Message    string
	Cause      error
	Suggestion string
	StatusCode int
	RetryAfter int
}

// Error implements the error interface
func (e *CLIError) Error() string {
	return e.Message
}

// WithSuggestion adds a helpful suggestion to the error
func (e *CLIError) WithSuggestion(suggestion string) *CLIError {
	e.Suggestion = suggestion
	return e
}

// HasSuggestion returns true if the error has a suggestion
func (e *CLIError) HasSuggestion() bool {
	return e.Suggestion != ""
}

// Unwrap returns the underlying error
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// NewCLIError creates a new CLI error
func NewCLIError(errorType ErrorType, message string, cause error) *CLIError {
	return &CLIError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NetworkError creates a network error
func NetworkError(message string) *CLIError {
	err := NewCLIError(ErrorTypeNetwork, message, nil)
	err.Suggestion = "Check your internet connection and try again."
	return err
}

// TimeoutError creates a timeout error
func TimeoutError() *CLIError {
	err := NewCLIError(ErrorTypeTimeout, "Request timed out", nil)
	err.Suggestion = "The server is taking too long to respond. Try again in a moment."
	return err
}

// AuthError creates an authentication error
func AuthError(message string) *CLIError {
	err := NewCLIError(ErrorTypeAuth, message, nil)
	err.Suggestion = "Try signing in again with 'aspirely auth login'."
	return err
}

// NotAuthenticatedError is returned when a command needs a signed-in user.
func NotAuthenticatedError() *CLIError {
	err := NewCLIError(ErrorTypeNotAuthenticated, "You are not signed in", nil)
	err.Suggestion = "Run 'aspirely auth login' first."
	return err
}

// SessionExpiredError creates a session expired error
func SessionExpiredError() *CLIError {
	err := NewCLIError(ErrorTypeSessionExpired, "Your session has expired", nil)
	err.Suggestion = "Run 'aspirely auth login' to start a new session."
	return err
}

// QueueFullError is returned when too many requests wait on a token refresh.
func QueueFullError() *CLIError {
	err := NewCLIError(ErrorTypeQueueFull, "Too many requests are waiting for a token refresh", nil)
	err.Suggestion = "Wait a moment and try again."
	return err
}

// ForbiddenError creates a forbidden error
func ForbiddenError() *CLIError {
	err := NewCLIError(ErrorTypeForbidden, "Access denied", nil)
	err.Suggestion = "Your account is not allowed to access this resource."
	return err
}

// ValidationError creates a validation error
func ValidationError(field, reason string) *CLIError {
	message := fmt.Sprintf("Validation error: %s - %s", field, reason)
	return NewCLIError(ErrorTypeValidation, message, nil)
}

// ServerError creates a server error
func ServerError() *CLIError {
	err := NewCLIError(ErrorTypeServer, "Server error", nil)
	err.Suggestion = "The server encountered an error. Try again in a few moments."
	return err
}

// NotFoundError creates a not found error
func NotFoundError(resourceType, identifier string) *CLIError {
	return NewCLIError(ErrorTypeNotFound,
		fmt.Sprintf("%s not found: %s", resourceType, identifier),
		nil)
}

// RateLimitError creates a rate limit error
func RateLimitError(retryAfter int) *CLIError {
	err := NewCLIError(ErrorTypeRateLimit, "Rate limit exceeded. Too many requests.", nil)
	err.RetryAfter = retryAfter
	err.Suggestion = fmt.Sprintf("Please wait %d seconds before trying again.", retryAfter)
	return err
}

// ConflictError creates a conflict error
func ConflictError(message string) *CLIError {
	err := NewCLIError(ErrorTypeConflict, message, nil)
	err.Suggestion = "The record was changed elsewhere. Refresh and try again."
	return err
}

// StaleCacheWarning describes data served from cache after a failed refresh.
func StaleCacheWarning(entity string, cause error) *CLIError {
	err := NewCLIError(ErrorTypeStaleCache,
		fmt.Sprintf("Showing cached %s; the latest data could not be loaded", entity),
		cause)
	err.Suggestion = "Check your connection. Cached data will refresh automatically."
	return err
}

// InsufficientCreditsError is returned before starting a paid generation.
func InsufficientCreditsError(balance int) *CLIError {
	err := NewCLIError(ErrorTypeInsufficientFunds,
		fmt.Sprintf("Not enough credits (balance: %d)", balance),
		nil)
	err.Suggestion = "Top up your credits at https://aspirely.ai/pricing."
	return err
}

// GenerationTimeoutError is returned when an AI generation never completes.
func GenerationTimeoutError(what string) *CLIError {
	err := NewCLIError(ErrorTypeGenerationTimeout,
		fmt.Sprintf("%s is still generating", what),
		nil)
	err.Suggestion = "It will appear in the history list once it is ready."
	return err
}

// fromStatus maps an HTTP status to a CLIError.
func fromStatus(status int, cause error) *CLIError {
	var e *CLIError
	switch {
	case status == http.StatusUnauthorized:
		e = SessionExpiredError()
	case status == http.StatusForbidden:
		e = ForbiddenError()
	case status == http.StatusNotFound, status == http.StatusNotAcceptable:
		e = NotFoundError("Resource", "unknown")
	case status == http.StatusConflict:
		e = ConflictError("Conflicting update")
	case status == http.StatusTooManyRequests:
		e = RateLimitError(60)
	case status >= 500:
		e = ServerError()
	default:
		return nil
	}
	e.StatusCode = status
	e.Cause = cause
	return e
}

// CategorizeError converts a standard error into a CLIError. Typed errors
// are checked first; message matching is the fallback.
func CategorizeError(err error) *CLIError {
	if err == nil {
		return nil
	}

	var cliErr *CLIError
	if errors.As(err, &cliErr) {
		return cliErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError()
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		if e := fromStatus(sc.HTTPStatus(), err); e != nil {
			return e
		}
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "connection refused"), strings.Contains(errMsg, "no such host"):
		return NetworkError("Could not reach the Aspirely servers.")
	case strings.Contains(errMsg, "timeout"):
		return TimeoutError()
	case strings.Contains(errMsg, "jwt"), strings.Contains(errMsg, "expired"):
		return SessionExpiredError()
	case strings.Contains(errMsg, "unauthorized"):
		return AuthError("Invalid credentials")
	case strings.Contains(errMsg, "forbidden"), strings.Contains(errMsg, "permission denied"):
		return ForbiddenError()
	case strings.Contains(errMsg, "rate limit"):
		return RateLimitError(60)
	default:
		return NewCLIError(ErrorTypeUnknown, err.Error(), err)
	}
}

// FormatError returns a user-friendly error message
func FormatError(err error) string {
	if err == nil {
		return ""
	}

	cliErr := CategorizeError(err)
	var sb strings.Builder

	sb.WriteString("Error")
	if cliErr.Type != ErrorTypeUnknown {
		sb.WriteString(" (")
		sb.WriteString(string(cliErr.Type))
		sb.WriteString(")")
	}
	sb.WriteString(": ")
	sb.WriteString(cliErr.Message)
	sb.WriteString("\n")

	if cliErr.HasSuggestion() {
		sb.WriteString("Suggestion: ")
		sb.WriteString(cliErr.Suggestion)
		sb.WriteString("\n")
	}

	if cliErr.Type == ErrorTypeRateLimit && cliErr.RetryAfter > 0 {
		sb.WriteString(fmt.Sprintf("Retry in: %d seconds\n", cliErr.RetryAfter))
	}

	return sb.String()
}
