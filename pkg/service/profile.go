package service

import (
	"context"
	"fmt"

	"github.com/aspirely/aspirely-cli/pkg/api"
	"github.com/aspirely/aspirely-cli/pkg/auth"
	"github.com/aspirely/aspirely-cli/pkg/cache"
	"github.com/aspirely/aspirely-cli/pkg/coalesce"
	"github.com/aspirely/aspirely-cli/pkg/container"
	"github.com/aspirely/aspirely-cli/pkg/credentials"
	"github.com/aspirely/aspirely-cli/pkg/formatter"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/aspirely/aspirely-cli/pkg/query"
)

// Account is the signed-in user as the backend knows them.
type Account struct {
	User    api.User        `json:"user"`
	Profile api.UserProfile `json:"profile"`
}

// ProfileService resolves and shows the signed-in user's profile.
type ProfileService struct {
	Base
	q *query.Query[Account]
}

// NewProfileService creates a new profile service
func NewProfileService(c *container.Container) *ProfileService {
	s := &ProfileService{Base: newBase(c)}
	s.q = query.New(query.Options[Account]{
		Entity: cache.UserProfile,
		Store:  c.Store(),
		Ready:  s.ready,
		UserID: s.userID,
		Now:    s.now,
		Fetch:  s.fetch,
	})
	return s
}

// fetch shares one in-flight bootstrap per user across concurrent
// callers. Every later fetch reaches the backend again.
func (s *ProfileService) fetch(ctx context.Context) (Account, error) {
	key := "bootstrap:" + s.userID()
	return coalesce.Share(ctx, s.c.Group(), key, s.bootstrap)
}

// bootstrap finds the backend user for the identity user, provisioning
// one on first sign-in, and reads its profile.
func (s *ProfileService) bootstrap(ctx context.Context) (Account, error) {
	clerkID := s.userID()
	sess := s.c.Session()
	n := s.maxRetries()

	user, err := auth.Execute(ctx, sess, "users", n, func(ctx context.Context) (*api.User, error) {
		return s.backend().GetUserByClerkID(ctx, clerkID)
	})
	if isNotFound(err) {
		logger.Info("No backend user yet, provisioning", "clerk_id", clerkID)
		// Provisioning runs at most once per session.
		return coalesce.Do(ctx, s.c.Group(), "provision:"+clerkID, s.provision)
	}
	if err != nil {
		return Account{}, fmt.Errorf("look up user: %w", err)
	}

	profile, err := auth.Execute(ctx, sess, "user_profile", n, func(ctx context.Context) (*api.UserProfile, error) {
		return s.backend().GetProfile(ctx, user.ID)
	})
	if err != nil {
		return Account{}, fmt.Errorf("load profile: %w", err)
	}
	return Account{User: *user, Profile: *profile}, nil
}

func (s *ProfileService) provision(ctx context.Context) (Account, error) {
	creds := s.c.Credentials()
	req := api.ProvisionRequest{
		ClerkID:   creds.UserID,
		Email:     creds.Email,
		FirstName: creds.FirstName,
		LastName:  creds.LastName,
	}
	if req.Email == "" {
		if u, err := s.c.Identity().User(ctx); err == nil {
			req.Email = u.PrimaryEmail()
			req.FirstName = u.FirstName
			req.LastName = u.LastName
		} else {
			logger.Warn("Could not read identity user", "error", err)
		}
	}

	resp, err := auth.Execute(ctx, s.c.Session(), "provision", s.maxRetries(), func(ctx context.Context) (*api.ProvisionResponse, error) {
		return s.backend().ProvisionUser(ctx, req)
	})
	if err != nil {
		return Account{}, err
	}
	if resp.Profile.ID != "" {
		return Account{User: resp.User, Profile: resp.Profile}, nil
	}

	profile, err := auth.Execute(ctx, s.c.Session(), "user_profile", s.maxRetries(), func(ctx context.Context) (*api.UserProfile, error) {
		return s.backend().GetProfile(ctx, resp.User.ID)
	})
	if err != nil {
		return Account{}, fmt.Errorf("load profile: %w", err)
	}
	return Account{User: resp.User, Profile: *profile}, nil
}

// Resolve returns the signed-in account, from cache when possible.
func (s *ProfileService) Resolve(ctx context.Context) (*Account, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}

	st := s.q.Load(ctx)
	if !st.HasCache {
		var err error
		if st, err = s.q.Refetch(ctx); err != nil {
			return nil, err
		}
	}
	acct := st.Data
	s.remember(acct)
	return &acct, nil
}

// remember stores the backend ids alongside the session.
func (s *ProfileService) remember(acct Account) {
	creds := s.c.Credentials()
	if creds == nil || (creds.DBUserID == acct.User.ID && creds.ProfileID == acct.Profile.ID) {
		return
	}
	updated := *creds
	updated.DBUserID = acct.User.ID
	updated.ProfileID = acct.Profile.ID
	s.c.SetCredentials(&updated)
	if err := credentials.Save(&updated); err != nil {
		logger.Warn("Failed to save profile ids", "error", err)
	}
}

// Show prints the signed-in user's profile.
func (s *ProfileService) Show(ctx context.Context, opts ListOptions) error {
	_, err := present(ctx, s.Base, s.q, opts, func(a Account) error {
		s.remember(a)
		if output.IsJSON() {
			return output.Print("", a)
		}
		return output.PrintRecord("Profile", formatter.ProfileFields(a.User, a.Profile))
	})
	return err
}

// Init forces the bootstrap, provisioning the backend user if needed.
func (s *ProfileService) Init(ctx context.Context) (*Account, error) {
	if err := s.requireSession(); err != nil {
		return nil, err
	}
	if err := s.q.Invalidate(ctx); err != nil {
		logger.Debug("Failed to evict profile cache", "error", err)
	}

	st, err := s.q.Refetch(ctx)
	if err != nil {
		return nil, err
	}
	s.remember(st.Data)
	output.PrintSuccess("Profile ready (%s)", formatter.ShortID(st.Data.Profile.ID))
	return &st.Data, nil
}
