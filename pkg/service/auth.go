package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/auth"
	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/container"
	"github.com/aspirely/aspirely-cli/pkg/credentials"
	clierrors "github.com/aspirely/aspirely-cli/pkg/errors"
	"github.com/aspirely/aspirely-cli/pkg/formatter"
	"github.com/aspirely/aspirely-cli/pkg/identity"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/aspirely/aspirely-cli/pkg/prompter"
)

// loginTimeout bounds the wait for the browser sign-in.
const loginTimeout = 5 * time.Minute

// LoginOptions selects how to sign in. When SessionID and ClientToken are
// set the browser step is skipped.
type LoginOptions struct {
	SessionID   string
	ClientToken string
	UserID      string
	Force       bool
}

func (o LoginOptions) headless() bool {
	return o.SessionID != "" && o.ClientToken != ""
}

// AuthService signs the user in and out.
type AuthService struct {
	Base
}

// NewAuthService creates a new auth service
func NewAuthService(c *container.Container) *AuthService {
	return &AuthService{Base: newBase(c)}
}

// Login handles user login
func (s *AuthService) Login(ctx context.Context, opts LoginOptions) (*credentials.Credentials, error) {
	existing, err := credentials.Load()
	if err != nil {
		logger.Warn("Failed to load credentials", "error", err)
	}
	if existing.IsValid() && !opts.Force {
		output.PrintWarning("Already signed in as %s", existing.DisplayName())
		if !prompter.Interactive() {
			return nil, clierrors.ValidationError("login", "already signed in, pass --force to sign in again")
		}
		ok, err := prompter.PromptConfirm("Sign in again?", false)
		if err != nil {
			return nil, err
		}
		if !ok {
			return existing, nil
		}
	}

	res := identity.CallbackResult{SessionID: opts.SessionID, ClientToken: opts.ClientToken, UserID: opts.UserID}
	if !opts.headless() {
		got, err := s.browserLogin(ctx)
		if err != nil {
			return nil, err
		}
		res = *got
	}

	idc := s.c.Identity()
	idc.SetSession(res.SessionID, res.ClientToken)
	if err := s.c.Session().Start(ctx); err != nil {
		idc.SetSession("", "")
		e := clierrors.AuthError("Sign-in failed")
		e.Cause = err
		return nil, e
	}

	if res.UserID == "" {
		if res.UserID, err = identity.Subject(s.c.Session().Token()); err != nil {
			return nil, fmt.Errorf("read user from token: %w", err)
		}
	}

	creds := &credentials.Credentials{
		SessionID:   res.SessionID,
		ClientToken: res.ClientToken,
		UserID:      res.UserID,
		SignedInAt:  s.now().UTC(),
	}
	if u, err := idc.User(ctx); err == nil {
		creds.Email = u.PrimaryEmail()
		creds.FirstName = u.FirstName
		creds.LastName = u.LastName
	} else {
		logger.Warn("Could not read identity user", "error", err)
	}

	if existing != nil && existing.UserID != creds.UserID {
		if n, err := s.c.SignOut(ctx); err != nil {
			logger.Warn("Failed to clear previous user's cache", "error", err)
		} else {
			logger.Debug("Cleared previous user's cache", "entries", n)
		}
		if err := s.c.Session().Start(ctx); err != nil {
			return nil, err
		}
	}

	s.c.SetCredentials(creds)
	if err := credentials.Save(creds); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}

	if _, err := NewProfileService(s.c).Resolve(ctx); err != nil {
		output.PrintWarning("Signed in, but your profile could not be loaded: %v", err)
	}

	output.PrintSuccess("✓ Signed in as %s", formatter.Bold.Sprint(creds.DisplayName()))
	return creds, nil
}

func (s *AuthService) browserLogin(ctx context.Context) (*identity.CallbackResult, error) {
	cs, err := identity.NewCallbackServer(config.GetInt("identity.callback_port"))
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := cs.Close(); err != nil {
			logger.Debug("Callback server close failed", "error", err)
		}
	}()

	output.PrintInfo("Open this link in your browser to sign in:")
	fmt.Fprintf(output.Out, "\n  %s\n\n", cs.LoginURL(config.GetString("app.url")))
	output.PrintInfo("Waiting for sign-in...")

	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()
	res, err := cs.Wait(ctx)
	if err != nil {
		return nil, clierrors.AuthError("Timed out waiting for the browser sign-in")
	}
	return res, nil
}

// Logout ends the session with the identity provider and clears every
// local trace of it.
func (s *AuthService) Logout(ctx context.Context) error {
	creds, err := credentials.Load()
	if err != nil {
		logger.Warn("Failed to load credentials", "error", err)
	}
	if !creds.IsValid() {
		output.PrintInfo("Not signed in")
		return nil
	}

	idc := s.c.Identity()
	if !idc.HasSession() {
		idc.SetSession(creds.SessionID, creds.ClientToken)
	}
	if err := idc.EndSession(ctx); err != nil {
		logger.Warn("Could not end identity session", "error", err)
	}

	n, err := s.c.SignOut(ctx)
	if err != nil {
		logger.Warn("Failed to purge cache", "error", err)
	}
	if err := credentials.Delete(); err != nil {
		return fmt.Errorf("remove credentials: %w", err)
	}

	output.PrintSuccess("✓ Signed out %s (%d cached entr%s cleared)", creds.DisplayName(), n, plural(n, "y", "ies"))
	return nil
}

// Me prints the signed-in identity.
func (s *AuthService) Me(ctx context.Context) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	creds := s.c.Credentials()

	u, err := s.c.Identity().User(ctx)
	if err != nil {
		logger.Debug("Identity user unavailable, using stored details", "error", err)
		u = &identity.User{ID: creds.UserID, FirstName: creds.FirstName, LastName: creds.LastName}
	}
	email := u.PrimaryEmail()
	if email == "" {
		email = creds.Email
	}

	if output.IsJSON() {
		return output.Print("", map[string]interface{}{
			"user_id":    u.ID,
			"email":      email,
			"first_name": u.FirstName,
			"last_name":  u.LastName,
			"profile_id": creds.ProfileID,
		})
	}
	return output.PrintRecord("Signed in", []output.Field{
		{Key: "User", Value: u.ID},
		{Key: "Email", Value: email},
		{Key: "Name", Value: fmt.Sprintf("%s %s", u.FirstName, u.LastName)},
		{Key: "Profile", Value: creds.ProfileID},
		{Key: "Since", Value: formatter.Date(creds.SignedInAt)},
	})
}

// Refresh mints a new token now.
func (s *AuthService) Refresh(ctx context.Context) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	if _, err := s.c.Session().Refresh(ctx); err != nil {
		if auth.IsSessionEnded(err) {
			return clierrors.SessionExpiredError()
		}
		return err
	}
	output.PrintSuccess("✓ Token refreshed, valid for %s", formatter.Duration(time.Until(s.c.Session().ExpiresAt())))
	return nil
}

// Status prints the token lifecycle state.
func (s *AuthService) Status(ctx context.Context) error {
	creds := s.c.Credentials()
	sess := s.c.Session()
	if !creds.IsValid() || sess == nil {
		if output.IsJSON() {
			return output.Print("", map[string]interface{}{"signed_in": false})
		}
		output.PrintInfo("Not signed in. Run 'aspirely auth login'.")
		return nil
	}

	remaining := time.Until(sess.ExpiresAt())
	if output.IsJSON() {
		return output.Print("", map[string]interface{}{
			"signed_in":          true,
			"user_id":            creds.UserID,
			"state":              sess.State().String(),
			"expires_in_seconds": int64(remaining.Seconds()),
			"next_refresh_in_s":  int64(sess.NextRefreshIn().Seconds()),
			"queued_requests":    sess.QueueLen(),
		})
	}
	return output.PrintRecord("Session", []output.Field{
		{Key: "User", Value: creds.DisplayName()},
		{Key: "State", Value: sess.State().String()},
		{Key: "Token expires in", Value: formatter.Duration(remaining)},
		{Key: "Next refresh in", Value: formatter.Duration(sess.NextRefreshIn())},
		{Key: "Queued requests", Value: sess.QueueLen()},
	})
}
