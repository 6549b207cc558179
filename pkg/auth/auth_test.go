package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/api"
	"github.com/aspirely/aspirely-cli/pkg/identity"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeJWT(n int, exp time.Time) string {
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"n":   n,
		"exp": exp.Unix(),
	}).SignedString([]byte("test"))
	if err != nil {
		panic(err)
	}
	return s
}

// fakeSource mints numbered tokens. While gate is set, calls block until
// it is closed.
type fakeSource struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
	errs  []error
	ttl   time.Duration
	now   func() time.Time
}

func newSource() *fakeSource {
	return &fakeSource{ttl: time.Hour, now: time.Now}
}

func (f *fakeSource) Token(ctx context.Context, _ identity.TokenOptions) (string, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	gate := f.gate
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return makeJWT(n, f.now().Add(f.ttl)), nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// block makes subsequent calls wait; the returned func releases them.
func (f *fakeSource) block() func() {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gate = gate
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.gate = nil
		f.mu.Unlock()
		close(gate)
	}
}

type fakeSink struct {
	mu    sync.Mutex
	token string
}

func (s *fakeSink) SetAuthToken(t string) { s.mu.Lock(); s.token = t; s.mu.Unlock() }
func (s *fakeSink) ClearAuthToken()       { s.SetAuthToken("") }
func (s *fakeSink) Token() string         { s.mu.Lock(); defer s.mu.Unlock(); return s.token }

type expiredErr struct{}

func (expiredErr) Error() string     { return "token expired" }
func (expiredErr) AuthExpired() bool { return true }

func newTestSession(t *testing.T, src *fakeSource, opts Options) (*Session, *fakeSink) {
	t.Helper()
	sink := &fakeSink{}
	opts.Source = src
	opts.Sink = sink
	if opts.SettleDelay == 0 {
		opts.SettleDelay = time.Millisecond
	}
	if opts.RefreshBackoff == 0 {
		opts.RefreshBackoff = time.Millisecond
	}
	s := NewSession(opts)
	t.Cleanup(s.Close)
	require.NoError(t, s.Start(context.Background()))
	return s, sink
}

// backendCall fails with an expired-token error while the sink still
// holds stale.
func backendCall(sink *fakeSink, stale string, calls *atomic.Int32) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		calls.Add(1)
		if sink.Token() == stale {
			return "", &api.APIError{StatusCode: http.StatusUnauthorized, Code: api.CodeJWTExpired, Message: "JWT expired"}
		}
		return "rows", nil
	}
}

type statusOnly int

func (s statusOnly) Error() string   { return fmt.Sprintf("status %d", int(s)) }
func (s statusOnly) HTTPStatus() int { return int(s) }

func TestIsAuthExpired(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"postgrest jwt expired", &api.APIError{StatusCode: 401, Code: "PGRST301"}, true},
		{"wrapped postgrest", fmt.Errorf("list jobs: %w", &api.APIError{StatusCode: 401}), true},
		{"typed server error mentioning jwt", &api.APIError{StatusCode: 500, Message: "jwt secret misconfigured"}, false},
		{"identity token expired", &identity.Error{StatusCode: 401, Code: identity.CodeSessionTokenExpired}, true},
		{"identity signed out", &identity.Error{StatusCode: 401, Code: identity.CodeSignedOut}, false},
		{"status only 401", statusOnly(401), true},
		{"status only 403", statusOnly(403), false},
		{"untyped jwt", errors.New("JWT expired"), true},
		{"untyped unauthorized", errors.New("Unauthorized"), true},
		{"untyped code", errors.New("pgrst301: bad token"), true},
		{"untyped network", errors.New("dial tcp: connection refused"), false},
		{"queue full", ErrQueueFull, false},
		{"logged out", ErrLoggedOut, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAuthExpired(tt.err))
		})
	}
}

func TestStartInstallsTokenAndSchedules(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := newSource()
	src.now = func() time.Time { return now }

	var heard atomic.Value
	s := NewSession(Options{Source: src, Sink: &fakeSink{}, Now: func() time.Time { return now }})
	t.Cleanup(s.Close)
	s.OnToken(func(tok string) { heard.Store(tok) })

	assert.Equal(t, StateUninitialized, s.State())
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, StateReady, s.State())
	assert.NotEmpty(t, s.Token())
	assert.Equal(t, s.Token(), heard.Load())
	assert.Equal(t, 55*time.Minute, s.NextRefreshIn())
	assert.True(t, s.ExpiresAt().Equal(now.Add(time.Hour).Truncate(time.Second)))
}

func TestRefreshDelayFloor(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	src := newSource()
	src.now = func() time.Time { return now }
	src.ttl = 2 * time.Minute

	s, _ := newTestSession(t, src, Options{Now: func() time.Time { return now }})
	assert.Equal(t, 30*time.Second, s.NextRefreshIn())
}

func TestStartWithoutSession(t *testing.T) {
	c := identity.New(identity.Options{BaseURL: "http://unused"})
	s := NewSession(Options{Source: c})
	t.Cleanup(s.Close)
	assert.ErrorIs(t, s.Start(context.Background()), ErrNotAuthenticated)
}

// Two triggers inside the interval cost one identity call; the second
// gets the token from the first.
func TestRefreshIsRateLimited(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	src := newSource()
	s, _ := newTestSession(t, src, Options{Now: clock})
	ctx := context.Background()
	require.Equal(t, 1, src.Calls())

	first, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, src.Calls())

	now = now.Add(59 * time.Second)
	second, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 2, src.Calls())

	now = now.Add(2 * time.Second)
	third, err := s.Refresh(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
	assert.Equal(t, 3, src.Calls())
}

func TestRateLimitedWithoutTokenFails(t *testing.T) {
	src := newSource()
	s := NewSession(Options{Source: src, RefreshInterval: time.Hour})
	t.Cleanup(s.Close)

	src.errs = []error{&identity.Error{StatusCode: 401, Code: identity.CodeSignedOut}}
	_, err := s.Refresh(context.Background())
	require.Error(t, err)

	_, err = s.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrRateLimited)
}

// Calls that hit an expired token while a refresh runs share that one
// refresh and are replayed with the new token.
func TestConcurrentCallsShareOneRefresh(t *testing.T) {
	src := newSource()
	s, sink := newTestSession(t, src, Options{})
	stale := sink.Token()
	ctx := context.Background()

	release := src.block()
	go s.Refresh(ctx)
	require.Eventually(t, func() bool { return s.State() == StateRefreshing }, time.Second, time.Millisecond)

	const n = 12
	var calls atomic.Int32
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := Execute(ctx, s, "jobs", 3, backendCall(sink, stale, &calls))
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return s.QueueLen() == n }, time.Second, time.Millisecond)

	release()
	for i := 0; i < n; i++ {
		assert.NoError(t, <-errs)
	}

	assert.Equal(t, 2, src.Calls(), "one start and one refresh")
	assert.Equal(t, int32(2*n), calls.Load(), "each call ran once and was replayed once")
	assert.Equal(t, 0, s.QueueLen())
	assert.NotEqual(t, stale, sink.Token())
}

func TestQueuedCallsGetRefreshError(t *testing.T) {
	src := newSource()
	s, sink := newTestSession(t, src, Options{})
	stale := sink.Token()
	ctx := context.Background()

	ended := &identity.Error{StatusCode: 401, Code: identity.CodeSignedOut}
	src.mu.Lock()
	src.errs = []error{ended}
	src.mu.Unlock()

	release := src.block()
	go s.Refresh(ctx)
	require.Eventually(t, func() bool { return s.State() == StateRefreshing }, time.Second, time.Millisecond)

	const n = 5
	var calls atomic.Int32
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := Execute(ctx, s, "letters", 3, backendCall(sink, stale, &calls))
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return s.QueueLen() == n }, time.Second, time.Millisecond)
	release()

	for i := 0; i < n; i++ {
		assert.ErrorIs(t, <-errs, ended)
	}
	assert.Equal(t, 2, src.Calls())
	assert.Equal(t, StateReady, s.State(), "failed refresh keeps the previous token")
}

func TestQueueIsBounded(t *testing.T) {
	src := newSource()
	s, sink := newTestSession(t, src, Options{QueueSize: 20})
	stale := sink.Token()
	ctx := context.Background()

	release := src.block()
	go s.Refresh(ctx)
	require.Eventually(t, func() bool { return s.State() == StateRefreshing }, time.Second, time.Millisecond)

	var calls atomic.Int32
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func() {
			_, err := Execute(ctx, s, "jobs", 3, backendCall(sink, stale, &calls))
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return s.QueueLen() == 20 }, time.Second, time.Millisecond)

	start := time.Now()
	_, err := Execute(ctx, s, "jobs", 3, backendCall(sink, stale, &calls))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "overflow must not wait for the refresh")
	assert.Equal(t, 20, s.QueueLen())

	release()
	for i := 0; i < 20; i++ {
		assert.NoError(t, <-errs)
	}
}

func TestRefreshJoinersShareTheQueueBound(t *testing.T) {
	src := newSource()
	s, _ := newTestSession(t, src, Options{QueueSize: 2})
	ctx := context.Background()

	release := src.block()
	go s.Refresh(ctx)
	require.Eventually(t, func() bool { return s.State() == StateRefreshing }, time.Second, time.Millisecond)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := s.Refresh(ctx)
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return s.QueueLen() == 2 }, time.Second, time.Millisecond)

	_, err := s.Refresh(ctx)
	assert.ErrorIs(t, err, ErrQueueFull)

	release()
	for i := 0; i < 2; i++ {
		assert.NoError(t, <-errs)
	}
	assert.Equal(t, 2, src.Calls(), "one start and one shared refresh")
	assert.Equal(t, 0, s.QueueLen())
}

// A token that expires mid-session is replaced without the caller seeing
// an error.
func TestExecuteRecoversFromExpiredToken(t *testing.T) {
	src := newSource()
	s, sink := newTestSession(t, src, Options{})
	stale := sink.Token()

	var calls atomic.Int32
	got, err := Execute(context.Background(), s, "profile", 3, backendCall(sink, stale, &calls))
	require.NoError(t, err)
	assert.Equal(t, "rows", got)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, 2, src.Calls())
	assert.Equal(t, StateReady, s.State())
}

func TestExecuteNonAuthErrorIsUnchanged(t *testing.T) {
	src := newSource()
	s, _ := newTestSession(t, src, Options{})
	boom := errors.New("boom")

	calls := 0
	_, err := Execute(context.Background(), s, "jobs", 3, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, src.Calls())
}

func TestExecuteGivesUpAfterMaxRetries(t *testing.T) {
	src := newSource()
	s, _ := newTestSession(t, src, Options{})

	calls := 0
	_, err := Execute(context.Background(), s, "jobs", 2, func(context.Context) (int, error) {
		calls++
		return 0, expiredErr{}
	})
	assert.Equal(t, expiredErr{}, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, src.Calls(), "the second refresh is rate limited")
}

func TestExecuteWithoutSession(t *testing.T) {
	_, err := Execute[int](context.Background(), nil, "jobs", 3, func(context.Context) (int, error) {
		return 0, expiredErr{}
	})
	assert.Equal(t, expiredErr{}, err)
}

func TestRefreshRetriesWithBackoff(t *testing.T) {
	src := newSource()
	s, _ := newTestSession(t, src, Options{})

	src.mu.Lock()
	src.errs = []error{errors.New("connection reset"), errors.New("connection reset")}
	src.mu.Unlock()

	tok, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, tok)
	assert.Equal(t, 4, src.Calls(), "start, two failures, success")
}

func TestRefreshGivesUpAfterRetries(t *testing.T) {
	src := newSource()
	s, _ := newTestSession(t, src, Options{})
	before := s.Token()

	src.mu.Lock()
	src.errs = []error{errors.New("a"), errors.New("b"), errors.New("c")}
	src.mu.Unlock()

	_, err := s.Refresh(context.Background())
	assert.EqualError(t, err, "c")
	assert.Equal(t, before, s.Token())
}

func TestLogoutRejectsWaitingCalls(t *testing.T) {
	src := newSource()
	s, sink := newTestSession(t, src, Options{})
	stale := sink.Token()
	ctx := context.Background()

	release := src.block()
	defer release()
	go s.Refresh(ctx)
	require.Eventually(t, func() bool { return s.State() == StateRefreshing }, time.Second, time.Millisecond)

	var calls atomic.Int32
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := Execute(ctx, s, "jobs", 3, backendCall(sink, stale, &calls))
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return s.QueueLen() == 3 }, time.Second, time.Millisecond)

	s.Logout()
	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, <-errs, ErrLoggedOut)
	}
	assert.Equal(t, StateLoggedOut, s.State())
	assert.Empty(t, s.Token())
	assert.Empty(t, sink.Token())

	_, err := s.Refresh(ctx)
	assert.ErrorIs(t, err, ErrLoggedOut)
}

func TestStartAfterLogout(t *testing.T) {
	src := newSource()
	s, sink := newTestSession(t, src, Options{})
	s.Logout()

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateReady, s.State())
	assert.NotEmpty(t, sink.Token())
}

func TestOnTokenUnsubscribe(t *testing.T) {
	now := time.Now()
	src := newSource()
	s, _ := newTestSession(t, src, Options{Now: func() time.Time { return now }})

	var n atomic.Int32
	stop := s.OnToken(func(string) { n.Add(1) })
	_, err := s.Refresh(context.Background())
	require.NoError(t, err)
	stop()

	now = now.Add(2 * time.Minute)
	_, err = s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, src.Calls())
	assert.Equal(t, int32(1), n.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "refreshing", StateRefreshing.String())
	assert.Equal(t, "logged-out", StateLoggedOut.String())
}
