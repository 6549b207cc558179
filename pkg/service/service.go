// Package service implements the CLI commands on top of the container:
// cached queries, optimistic mutations and generation flows, rendered
// through the output package.
package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/api"
	"github.com/aspirely/aspirely-cli/pkg/auth"
	"github.com/aspirely/aspirely-cli/pkg/cache"
	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/container"
	clierrors "github.com/aspirely/aspirely-cli/pkg/errors"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/aspirely/aspirely-cli/pkg/query"
)

// Base carries what every service needs.
type Base struct {
	c   *container.Container
	now func() time.Time
}

func newBase(c *container.Container) Base {
	return Base{c: c, now: time.Now}
}

func (b Base) maxRetries() int {
	if n := config.GetInt("auth.max_retries"); n > 0 {
		return n
	}
	return 3
}

// userID is the identity user id that owns cache envelopes.
func (b Base) userID() string {
	if creds := b.c.Credentials(); creds != nil {
		return creds.UserID
	}
	return ""
}

// ready reports whether backend calls can be authorized.
func (b Base) ready() bool {
	s := b.c.Session()
	if s == nil || !b.c.Credentials().IsValid() {
		return false
	}
	st := s.State()
	return st == auth.StateReady || st == auth.StateRefreshing
}

func (b Base) requireSession() error {
	if !b.ready() {
		return clierrors.NotAuthenticatedError()
	}
	return nil
}

// startSession retries a session that could not be started when the
// command began, typically because the identity provider was unreachable.
func (b Base) startSession(ctx context.Context) error {
	s := b.c.Session()
	if s == nil {
		return auth.ErrNotAuthenticated
	}
	if err := s.Start(ctx); err != nil {
		logger.Debug("Session still unavailable", "error", err)
		return err
	}
	return nil
}

func isSignedOut(err error) bool {
	return errors.Is(err, auth.ErrNotAuthenticated) || auth.IsSessionEnded(err)
}

func (b Base) backend() *api.Backend {
	return b.c.Backend()
}

// profileID returns the signed-in user's profile id, bootstrapping the
// backend user on first use.
func (b Base) profileID(ctx context.Context) (string, error) {
	if creds := b.c.Credentials(); creds != nil && creds.ProfileID != "" {
		return creds.ProfileID, nil
	}
	acct, err := NewProfileService(b.c).Resolve(ctx)
	if err != nil {
		return "", err
	}
	return acct.Profile.ID, nil
}

// newQuery builds a cached query whose fetch runs with auth recovery.
func newQuery[T any](b Base, entity cache.Entity, empty T, fetch func(ctx context.Context, profileID string) (T, error)) *query.Query[T] {
	return query.New(queryOptions(b, entity, empty, fetch))
}

func queryOptions[T any](b Base, entity cache.Entity, empty T, fetch func(ctx context.Context, profileID string) (T, error)) query.Options[T] {
	return query.Options[T]{
		Entity: entity,
		Store:  b.c.Store(),
		Ready:  b.ready,
		UserID: b.userID,
		Empty:  empty,
		Now:    b.now,
		Fetch: func(ctx context.Context) (T, error) {
			pid, err := b.profileID(ctx)
			if err != nil {
				var zero T
				return zero, err
			}
			return auth.Execute(ctx, b.c.Session(), entity.Name, b.maxRetries(), func(ctx context.Context) (T, error) {
				return fetch(ctx, pid)
			})
		},
	}
}

// ListOptions controls how a list is loaded.
type ListOptions struct {
	// Offline renders only what is cached.
	Offline bool
}

// present shows cached data at once, then refreshes and shows the fresh
// data if it differs. Without a cache it waits for the fetch.
func present[T any](ctx context.Context, b Base, q *query.Query[T], opts ListOptions, render func(T) error) (query.State[T], error) {
	// Reading the cache needs the owner, not a token.
	if !b.c.Credentials().IsValid() {
		return query.State[T]{}, clierrors.NotAuthenticatedError()
	}
	var startErr error
	if !opts.Offline && !b.ready() {
		if startErr = b.startSession(ctx); startErr != nil && isSignedOut(startErr) {
			return query.State[T]{}, clierrors.NotAuthenticatedError()
		}
	}

	st := q.Load(ctx)
	shown := false
	if st.HasCache && !output.IsJSON() {
		if err := render(st.Data); err != nil {
			return st, err
		}
		output.PrintFreshness(true, false, st.UpdatedAt)
		shown = true
	}
	if opts.Offline {
		if !st.HasCache {
			output.PrintInfo("Nothing cached yet")
			return st, nil
		}
		if !shown {
			return st, render(st.Data)
		}
		return st, nil
	}

	cached := st.Data
	var err error
	if startErr != nil {
		// No token means no fetch; the cache is all there is.
		st, err = q.Fail(startErr)
	} else {
		st, err = q.Refetch(ctx)
	}
	if err != nil {
		return st, err
	}
	if st.ConnectionIssue {
		logger.Warn("Serving cached data", "entity", q.Entity().Name, "updated_at", st.UpdatedAt)
		output.PrintFreshness(true, true, st.UpdatedAt)
		if shown {
			return st, nil
		}
		return st, render(st.Data)
	}
	if shown && reflect.DeepEqual(cached, st.Data) {
		return st, nil
	}
	if shown {
		fmt.Fprintln(output.Out)
		output.PrintInfo("Updated:")
	}
	return st, render(st.Data)
}

// resolveID finds the item whose id equals or starts with ref.
func resolveID[T query.Identifiable](items []T, ref, what string) (T, error) {
	var zero T
	ref = strings.TrimSpace(strings.ToLower(ref))
	if ref == "" {
		return zero, clierrors.ValidationError("id", "must not be empty")
	}

	var matches []T
	for _, it := range items {
		id := strings.ToLower(it.GetID())
		if id == ref {
			return it, nil
		}
		if strings.HasPrefix(id, ref) {
			matches = append(matches, it)
		}
	}
	switch len(matches) {
	case 0:
		return zero, clierrors.NotFoundError(what, ref)
	case 1:
		return matches[0], nil
	default:
		return zero, clierrors.ValidationError("id", fmt.Sprintf("%q matches %d %ss, use more characters", ref, len(matches), what))
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, api.ErrNotFound) || api.IsNotFound(err)
}
