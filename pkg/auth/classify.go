package auth

import (
	"errors"
	"net/http"
	"strings"
)

// authExpirer is implemented by typed backend and identity errors.
type authExpirer interface {
	AuthExpired() bool
}

type sessionEnder interface {
	SessionEnded() bool
}

type statusCoder interface {
	HTTPStatus() int
}

// expiredMarkers are matched against untyped error text, lowercased.
var expiredMarkers = []string{"jwt", "expired", "unauthorized", "pgrst301"}

// IsAuthExpired reports whether err means the bearer token is no longer
// accepted. Typed errors decide for themselves; message matching is only
// used for errors that carry no type information.
func IsAuthExpired(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrLoggedOut) || errors.Is(err, ErrNotAuthenticated) {
		return false
	}

	var ae authExpirer
	if errors.As(err, &ae) {
		return ae.AuthExpired()
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatus() == http.StatusUnauthorized
	}

	msg := strings.ToLower(err.Error())
	for _, m := range expiredMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// IsSessionEnded reports whether the identity session is gone, so no
// amount of refreshing will help.
func IsSessionEnded(err error) bool {
	var se sessionEnder
	return errors.As(err, &se) && se.SessionEnded()
}
