// Package container holds the per-process application context: the
// backend and identity clients, the token session, the cache store and
// the request-coalescing group. It is built once at startup and its
// session-scoped state is cleared at sign-out.
package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aspirely/aspirely-cli/pkg/api"
	"github.com/aspirely/aspirely-cli/pkg/auth"
	"github.com/aspirely/aspirely-cli/pkg/cache"
	"github.com/aspirely/aspirely-cli/pkg/client"
	"github.com/aspirely/aspirely-cli/pkg/coalesce"
	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/credentials"
	"github.com/aspirely/aspirely-cli/pkg/identity"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/realtime"
)

// Container holds all application dependencies and provides type-safe access.
type Container struct {
	// Transport
	client   *client.Client
	backend  *api.Backend
	identity *identity.Client
	realtime *realtime.Client

	// Session-scoped state
	session *auth.Session
	creds   *credentials.Credentials
	store   cache.Store
	group   *coalesce.Group

	// Lifecycle hooks
	cleanupFuncs []func(context.Context) error
	mu           sync.RWMutex
}

// New creates a new empty container.
func New() *Container {
	return &Container{
		group:        &coalesce.Group{},
		cleanupFuncs: make([]func(context.Context) error, 0),
	}
}

// FromConfig builds a fully wired container from the loaded settings. The
// identity client starts without a session; auth.SessionRecovery binds
// the stored one.
func FromConfig() (*Container, error) {
	cl := client.NewFromConfig()

	idc, err := identity.NewFromConfig("", "")
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	session := auth.NewSession(auth.Options{
		Source:          idc,
		Sink:            cl,
		Template:        config.GetString("identity.token_template"),
		QueueSize:       config.GetInt("auth.queue_size"),
		RefreshInterval: config.GetSeconds("auth.refresh_interval_s"),
		SettleDelay:     config.GetMillis("auth.settle_delay_ms"),
	})

	store := cache.Open()
	rt := realtime.NewClient(realtime.ConfigFromSettings())
	unsubscribe := session.OnToken(rt.SetAuthToken)

	c := New().
		SetClient(cl).
		SetBackend(api.NewBackend(cl)).
		SetIdentity(idc).
		SetRealtime(rt).
		SetSession(session).
		SetStore(store)

	c.OnCleanup(func(context.Context) error { return store.Close() })
	c.OnCleanup(func(context.Context) error {
		session.Close()
		return nil
	})
	c.OnCleanup(func(context.Context) error {
		unsubscribe()
		return rt.Disconnect()
	})
	return c, nil
}

// SetClient registers the backend HTTP client
func (c *Container) SetClient(cl *client.Client) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.client = cl
	return c
}

// Client returns the backend HTTP client
func (c *Container) Client() *client.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// SetBackend registers the backend API
func (c *Container) SetBackend(b *api.Backend) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.backend = b
	return c
}

// Backend returns the backend API
func (c *Container) Backend() *api.Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.backend
}

// SetIdentity registers the identity provider client
func (c *Container) SetIdentity(idc *identity.Client) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = idc
	return c
}

// Identity returns the identity provider client
func (c *Container) Identity() *identity.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// SetRealtime registers the realtime client
func (c *Container) SetRealtime(rt *realtime.Client) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.realtime = rt
	return c
}

// Realtime returns the realtime client, or nil when disabled.
func (c *Container) Realtime() *realtime.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.realtime
}

// SetSession registers the token session
func (c *Container) SetSession(s *auth.Session) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
	return c
}

// Session returns the token session
func (c *Container) Session() *auth.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SetCredentials records the signed-in user's stored session.
func (c *Container) SetCredentials(creds *credentials.Credentials) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
	return c
}

// Credentials returns the signed-in user's stored session, or nil.
func (c *Container) Credentials() *credentials.Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// SetStore registers the cache store
func (c *Container) SetStore(s cache.Store) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = s
	return c
}

// Store returns the cache store. It is never nil.
func (c *Container) Store() cache.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.store == nil {
		return cache.NopStore{}
	}
	return c.store
}

// Group returns the request-coalescing group
func (c *Container) Group() *coalesce.Group {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.group
}

// SignOut clears session-scoped state: the token, every queued call,
// coalesced results and cached envelopes.
func (c *Container) SignOut(ctx context.Context) (int, error) {
	if s := c.Session(); s != nil {
		s.Logout()
	}
	c.SetCredentials(nil)
	c.Group().Reset()
	n, err := cache.Purge(ctx, c.Store())
	if err != nil {
		return n, fmt.Errorf("purge cache: %w", err)
	}
	return n, nil
}

// OnCleanup registers a cleanup function to be called during shutdown.
// Cleanup functions are called in LIFO order.
func (c *Container) OnCleanup(fn func(context.Context) error) *Container {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
	return c
}

// Cleanup runs every cleanup function in reverse order of registration.
// A failing function is logged and the rest still run.
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	fns := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	var errs []error
	for i := len(fns) - 1; i >= 0; i-- {
		if err := fns[i](ctx); err != nil {
			logger.Warn("Cleanup function failed", "index", i, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks that all required dependencies are registered.
func (c *Container) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	missing := []string{}
	if c.client == nil {
		missing = append(missing, "backend client")
	}
	if c.backend == nil {
		missing = append(missing, "backend API")
	}
	if c.identity == nil {
		missing = append(missing, "identity client")
	}
	if c.session == nil {
		missing = append(missing, "token session")
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required dependencies: %s", strings.Join(missing, ", "))
	}
	return nil
}
