package identity

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	json "github.com/json-iterator/go"
)

// Error codes returned by the identity frontend API.
const (
	CodeSessionTokenExpired   = "session_token_expired"
	CodeAuthenticationInvalid = "authentication_invalid"
	CodeSignedOut             = "signed_out"
	CodeSessionNotFound       = "resource_not_found"
)

// Error is an identity provider error response.
type Error struct {
	StatusCode  int
	Code        string
	Message     string
	LongMessage string
}

func (e *Error) Error() string {
	msg := e.LongMessage
	if msg == "" {
		msg = e.Message
	}
	return fmt.Sprintf("identity [%d] %s: %s", e.StatusCode, e.Code, msg)
}

// HTTPStatus returns the response status.
func (e *Error) HTTPStatus() int {
	return e.StatusCode
}

// AuthExpired reports whether a fresh session token would help.
func (e *Error) AuthExpired() bool {
	return e.Code == CodeSessionTokenExpired
}

// SessionEnded reports whether the session itself is gone and the user
// has to sign in again.
func (e *Error) SessionEnded() bool {
	switch e.Code {
	case CodeSignedOut, CodeSessionNotFound, CodeAuthenticationInvalid:
		return true
	}
	return e.StatusCode == http.StatusUnauthorized && e.Code != CodeSessionTokenExpired
}

type errorBody struct {
	Errors []struct {
		Code        string `json:"code"`
		Message     string `json:"message"`
		LongMessage string `json:"long_message"`
	} `json:"errors"`
}

func parseError(resp *resty.Response) error {
	e := &Error{StatusCode: resp.StatusCode()}
	var body errorBody
	if err := json.Unmarshal(resp.Body(), &body); err == nil && len(body.Errors) > 0 {
		e.Code = body.Errors[0].Code
		e.Message = body.Errors[0].Message
		e.LongMessage = body.Errors[0].LongMessage
		return e
	}
	e.Code = "unknown_error"
	e.Message = strings.TrimSpace(string(resp.Body()))
	if e.Message == "" {
		e.Message = resp.Status()
	}
	return e
}

func checkResponse(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return parseError(resp)
	}
	return nil
}
