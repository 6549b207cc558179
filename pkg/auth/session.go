// Package auth manages the bearer token lifecycle: the initial token,
// proactive and reactive refresh, and replay of calls that failed because
// the token expired.
package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	clierrors "github.com/aspirely/aspirely-cli/pkg/errors"
	"github.com/aspirely/aspirely-cli/pkg/identity"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/metrics"
	"github.com/aspirely/aspirely-cli/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

var (
	// ErrQueueFull is returned when too many calls already wait on a refresh.
	ErrQueueFull = clierrors.QueueFullError()
	// ErrLoggedOut is returned to calls still waiting when the session ends.
	ErrLoggedOut = clierrors.NewCLIError(clierrors.ErrorTypeNotAuthenticated,
		"Signed out while the request was waiting", nil)
	// ErrNotAuthenticated is returned when there is no session to start.
	ErrNotAuthenticated = clierrors.NotAuthenticatedError()
	// ErrRateLimited is returned when a refresh is refused and no earlier
	// token exists to fall back on.
	ErrRateLimited = errors.New("auth: token refresh rate limited")
)

// State of the token lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateRefreshing
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateRefreshing:
		return "refreshing"
	case StateLoggedOut:
		return "logged-out"
	}
	return "unknown"
}

// TokenSource mints bearer tokens. identity.Client implements it.
type TokenSource interface {
	Token(ctx context.Context, opts identity.TokenOptions) (string, error)
}

// TokenSink receives the installed bearer. client.Client implements it.
type TokenSink interface {
	SetAuthToken(token string)
	ClearAuthToken()
}

// Options configures a Session. Zero values take the defaults below.
type Options struct {
	Source   TokenSource
	Sink     TokenSink
	Template string

	QueueSize       int           // 20
	RefreshInterval time.Duration // 60s between identity calls
	RefreshRetries  int           // 2 retries per cycle
	RefreshBackoff  time.Duration // 2s, doubled per retry
	RefreshTimeout  time.Duration // 30s per cycle
	SettleDelay     time.Duration // 500ms, doubled per Execute attempt
	RefreshLead     time.Duration // refresh 5m before exp
	MinRefreshDelay time.Duration // never schedule sooner than 30s

	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 20
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = 60 * time.Second
	}
	if o.RefreshRetries < 0 {
		o.RefreshRetries = 0
	} else if o.RefreshRetries == 0 {
		o.RefreshRetries = 2
	}
	if o.RefreshBackoff <= 0 {
		o.RefreshBackoff = 2 * time.Second
	}
	if o.RefreshTimeout <= 0 {
		o.RefreshTimeout = 30 * time.Second
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = 500 * time.Millisecond
	}
	if o.RefreshLead <= 0 {
		o.RefreshLead = 5 * time.Minute
	}
	if o.MinRefreshDelay <= 0 {
		o.MinRefreshDelay = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// refreshCall is one in-flight refresh; every caller that arrives while it
// runs waits on done and shares its result.
type refreshCall struct {
	once  sync.Once
	done  chan struct{}
	token string
	err   error
}

func newRefreshCall() *refreshCall {
	return &refreshCall{done: make(chan struct{})}
}

func (c *refreshCall) finish(token string, err error) {
	c.once.Do(func() {
		c.token, c.err = token, err
		close(c.done)
	})
}

func (c *refreshCall) wait(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return c.token, c.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Session owns the bearer token for one signed-in user.
type Session struct {
	opts    Options
	limiter *rate.Limiter

	mu        sync.Mutex
	state     State
	token     string
	expiresAt time.Time
	inflight  *refreshCall
	queued    int
	timer     *time.Timer
	nextDelay time.Duration
	listeners map[int]func(string)
	nextID    int

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession creates a Session in the uninitialized state.
func NewSession(opts Options) *Session {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		opts:      opts,
		limiter:   rate.NewLimiter(rate.Every(opts.RefreshInterval), 1),
		listeners: make(map[int]func(string)),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start obtains the initial token, installs it and schedules the first
// proactive refresh.
func (s *Session) Start(ctx context.Context) error {
	if hs, ok := s.opts.Source.(interface{ HasSession() bool }); ok && !hs.HasSession() {
		return ErrNotAuthenticated
	}

	s.mu.Lock()
	if s.state == StateLoggedOut {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	s.mu.Unlock()

	token, err := s.opts.Source.Token(ctx, identity.TokenOptions{Template: s.opts.Template})
	if err != nil {
		if errors.Is(err, identity.ErrNoSession) {
			return ErrNotAuthenticated
		}
		return err
	}

	s.mu.Lock()
	s.installLocked(token)
	listeners := s.listenersLocked()
	s.mu.Unlock()

	logger.Debug("Session started", "expires_at", s.ExpiresAt())
	notify(listeners, token)
	return nil
}

// Refresh forces a new token, subject to deduplication and rate limiting.
func (s *Session) Refresh(ctx context.Context) (string, error) {
	return s.refresh(ctx, "manual")
}

func (s *Session) refresh(ctx context.Context, trigger string) (string, error) {
	m := metrics.Get()

	s.mu.Lock()
	if s.state == StateLoggedOut {
		s.mu.Unlock()
		return "", ErrLoggedOut
	}
	if call := s.inflight; call != nil {
		return s.joinLocked(ctx, call)
	}
	if !s.limiter.AllowN(s.opts.Now(), 1) {
		token := s.token
		if trigger == "proactive" {
			s.scheduleLocked(s.opts.MinRefreshDelay)
		}
		s.mu.Unlock()
		m.RefreshRateLimited.Inc()
		logger.Debug("Token refresh rate limited", "trigger", trigger)
		if token == "" {
			return "", ErrRateLimited
		}
		return token, nil
	}

	call := newRefreshCall()
	s.inflight = call
	s.state = StateRefreshing
	sessionCtx := s.ctx
	s.mu.Unlock()

	go s.run(sessionCtx, call, trigger)
	return call.wait(ctx)
}

// run performs one refresh cycle and releases every waiter.
func (s *Session) run(ctx context.Context, call *refreshCall, trigger string) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.RefreshTimeout)
	defer cancel()
	ctx, span := telemetry.Start(ctx, "auth.refresh", attribute.String("trigger", trigger))

	token, err := s.fetch(ctx)

	s.mu.Lock()
	if s.inflight != call {
		// Logged out while the refresh ran.
		s.mu.Unlock()
		telemetry.End(span, ErrLoggedOut)
		return
	}
	s.inflight = nil
	var listeners []func(string)
	if err == nil {
		s.installLocked(token)
		listeners = s.listenersLocked()
	} else {
		s.state = StateReady
		if s.token == "" {
			s.state = StateUninitialized
		}
	}
	s.mu.Unlock()

	result := "success"
	if err != nil {
		result = "failure"
		logger.Warn("Token refresh failed", "trigger", trigger, "error", err)
	} else {
		logger.Debug("Token refreshed", "trigger", trigger)
	}
	metrics.Get().TokenRefreshesTotal.WithLabelValues(trigger, result).Inc()
	telemetry.End(span, err)

	notify(listeners, token)
	call.finish(token, err)
}

// fetch asks the identity provider for a new token, retrying with
// exponential backoff.
func (s *Session) fetch(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.RefreshRetries; attempt++ {
		if attempt > 0 {
			delay := s.opts.RefreshBackoff << (attempt - 1)
			if err := sleep(ctx, delay); err != nil {
				return "", lastErr
			}
		}
		token, err := s.opts.Source.Token(ctx, identity.TokenOptions{Template: s.opts.Template, SkipCache: true})
		if err == nil {
			return token, nil
		}
		lastErr = err
		if IsSessionEnded(err) || errors.Is(err, identity.ErrNoSession) || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

// installLocked sets the bearer, pushes it to the sink and reschedules.
func (s *Session) installLocked(token string) {
	s.token = token
	s.state = StateReady
	if s.opts.Sink != nil {
		s.opts.Sink.SetAuthToken(token)
	}

	exp, err := identity.ExpiresAt(token)
	if err != nil {
		s.expiresAt = time.Time{}
		s.scheduleLocked(s.opts.MinRefreshDelay)
		return
	}
	s.expiresAt = exp
	metrics.Get().TokenSecondsRemaining.Set(exp.Sub(s.opts.Now()).Seconds())
	s.scheduleLocked(s.refreshDelay(exp))
}

// refreshDelay is exp - lead, floored at the minimum delay.
func (s *Session) refreshDelay(exp time.Time) time.Duration {
	d := exp.Sub(s.opts.Now()) - s.opts.RefreshLead
	if d < s.opts.MinRefreshDelay {
		d = s.opts.MinRefreshDelay
	}
	return d
}

func (s *Session) scheduleLocked(d time.Duration) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.nextDelay = d
	s.timer = time.AfterFunc(d, func() {
		if _, err := s.refresh(context.Background(), "proactive"); err != nil && !errors.Is(err, ErrLoggedOut) {
			logger.Debug("Proactive refresh failed", "error", err)
		}
	})
}

// Logout clears the token and timer and rejects every waiting call.
func (s *Session) Logout() {
	s.mu.Lock()
	s.state = StateLoggedOut
	s.token = ""
	s.expiresAt = time.Time{}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	call := s.inflight
	s.inflight = nil
	s.cancel()
	if s.opts.Sink != nil {
		s.opts.Sink.ClearAuthToken()
	}
	s.mu.Unlock()

	if call != nil {
		call.finish("", ErrLoggedOut)
	}
	logger.Debug("Session logged out")
}

// Close stops background work without changing the state.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.cancel()
}

// awaitInFlight joins the queue behind an in-flight refresh. It reports
// false when no refresh is running.
func (s *Session) awaitInFlight(ctx context.Context) (bool, error) {
	s.mu.Lock()
	call := s.inflight
	if call == nil {
		s.mu.Unlock()
		return false, nil
	}
	_, err := s.joinLocked(ctx, call)
	return true, err
}

// joinLocked waits on call as one of at most QueueSize queued callers.
// s.mu must be held; it is released before waiting.
func (s *Session) joinLocked(ctx context.Context, call *refreshCall) (string, error) {
	if s.queued >= s.opts.QueueSize {
		s.mu.Unlock()
		metrics.Get().QueueRejectionsTotal.Inc()
		return "", ErrQueueFull
	}
	s.queued++
	metrics.Get().RefreshQueueDepth.Set(float64(s.queued))
	s.mu.Unlock()

	token, err := call.wait(ctx)

	s.mu.Lock()
	s.queued--
	metrics.Get().RefreshQueueDepth.Set(float64(s.queued))
	s.mu.Unlock()
	return token, err
}

// OnToken registers fn to receive every newly installed token. The
// returned func unregisters it.
func (s *Session) OnToken(fn func(token string)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) listenersLocked() []func(string) {
	out := make([]func(string), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func notify(listeners []func(string), token string) {
	for _, fn := range listeners {
		fn(token)
	}
}

// Token returns the installed bearer, or "".
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// QueueLen returns the number of calls waiting on a refresh.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued
}

// ExpiresAt returns the installed token's expiry, zero if unknown.
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

// NextRefreshIn returns the delay used for the pending proactive refresh.
func (s *Session) NextRefreshIn() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextDelay
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
