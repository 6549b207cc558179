package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/credentials"
	"github.com/aspirely/aspirely-cli/pkg/logger"
)

// SessionBinder accepts a stored identity session. identity.Client
// implements it.
type SessionBinder interface {
	SetSession(sessionID, clientToken string)
}

// SessionRecovery restores a signed-in session from stored credentials
type SessionRecovery struct {
	maxRetries int
	retryDelay time.Duration
	load       func() (*credentials.Credentials, error)
	forget     func() error
}

// NewSessionRecovery creates a new session recovery handler
func NewSessionRecovery() *SessionRecovery {
	return &SessionRecovery{
		maxRetries: 3,
		retryDelay: 2 * time.Second,
		load:       credentials.Load,
		forget:     credentials.Delete,
	}
}

// Recover loads credentials, binds them to the identity client and starts
// the session. Transient failures are retried; a session the provider has
// ended is forgotten and reported as not authenticated. When the retries
// run out the stored credentials are returned along with the error, so
// the caller can still serve that user's cached data.
func (sr *SessionRecovery) Recover(ctx context.Context, s *Session, binder SessionBinder) (*credentials.Credentials, error) {
	creds, err := sr.load()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	if !creds.IsValid() {
		return nil, ErrNotAuthenticated
	}

	binder.SetSession(creds.SessionID, creds.ClientToken)

	var lastErr error
	for attempt := 1; attempt <= sr.maxRetries; attempt++ {
		logger.Debug("Starting session", "attempt", attempt)

		lastErr = s.Start(ctx)
		if lastErr == nil {
			return creds, nil
		}
		if IsSessionEnded(lastErr) {
			logger.Info("Stored session has ended, signing out")
			if err := sr.forget(); err != nil {
				logger.Warn("Failed to remove credentials", "error", err)
			}
			binder.SetSession("", "")
			return nil, ErrNotAuthenticated
		}

		if attempt < sr.maxRetries {
			if err := sleep(ctx, sr.retryDelay); err != nil {
				return nil, err
			}
		}
	}

	return creds, fmt.Errorf("failed to recover session after %d attempts: %w", sr.maxRetries, lastErr)
}
