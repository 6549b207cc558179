package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	json "github.com/json-iterator/go"
)

// ErrNotFound matches single-row lookups that returned no row.
var ErrNotFound = errors.New("not found")

// PostgREST error codes the client reacts to.
const (
	CodeNoRows     = "PGRST116"
	CodeJWTExpired = "PGRST301"
)

// APIError represents an API error response
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Hint       string `json:"hint,omitempty"`
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s (details: %s)", e.StatusCode, e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s: %s", e.StatusCode, e.Code, e.Message)
}

// HTTPStatus returns the response status.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// Is lets errors.Is(err, ErrNotFound) match an empty single-row result.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.isNoRows()
}

func (e *APIError) isNoRows() bool {
	return e.Code == CodeNoRows || e.StatusCode == http.StatusNotAcceptable
}

// AuthExpired reports whether the backend rejected the bearer token.
func (e *APIError) AuthExpired() bool {
	return e.Code == CodeJWTExpired || e.StatusCode == http.StatusUnauthorized
}

// ParseError parses an error response from the API
func ParseError(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode()}

	if err := json.Unmarshal(resp.Body(), apiErr); err != nil || (apiErr.Code == "" && apiErr.Message == "") {
		apiErr.Code = "unknown_error"
		apiErr.Message = string(resp.Body())
		if apiErr.Message == "" {
			apiErr.Message = resp.Status()
		}
	}
	apiErr.StatusCode = resp.StatusCode()
	return apiErr
}

// IsUnauthorized checks if error is due to missing/invalid authentication
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsForbidden checks if error is due to insufficient permissions
func IsForbidden(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusForbidden
}

// IsNotFound checks if err is a missing row or a 404
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsServerError checks if error is due to server error (5xx)
func IsServerError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 500
}

// CheckResponse checks if response is successful and returns error if not
func CheckResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}

	if !resp.IsSuccess() {
		return ParseError(resp)
	}

	return nil
}
