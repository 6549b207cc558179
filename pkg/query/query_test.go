package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/api"
	"github.com/aspirely/aspirely-cli/pkg/cache"
	"github.com/brianvoe/gofakeit/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "user_1"

var errNetwork = errors.New("dial tcp: connection refused")

func fakeJob() api.JobEntry {
	return api.JobEntry{
		ID:        gofakeit.UUID(),
		ProfileID: "profile_1",
		Company:   gofakeit.Company(),
		JobTitle:  gofakeit.JobTitle(),
		JobURL:    gofakeit.URL(),
		Status:    api.StatusSaved,
	}
}

func fakeJobs(n int) []api.JobEntry {
	jobs := make([]api.JobEntry, n)
	for i := range jobs {
		jobs[i] = fakeJob()
	}
	return jobs
}

type fetcher struct {
	mu    sync.Mutex
	data  []api.JobEntry
	err   error
	calls int
	gate  chan struct{}
}

func (f *fetcher) Fetch(ctx context.Context) ([]api.JobEntry, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]api.JobEntry(nil), f.data...), nil
}

func (f *fetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newJobsQuery(store cache.Store, f *fetcher, now time.Time) *Query[[]api.JobEntry] {
	return New(Options[[]api.JobEntry]{
		Entity: cache.JobTracker,
		Store:  store,
		Fetch:  f.Fetch,
		UserID: func() string { return testUser },
		Empty:  []api.JobEntry{},
		Now:    func() time.Time { return now },
	})
}

// No cache and a slow network: loading first, then data, then a fresh
// envelope in storage.
func TestFirstLoadShowsLoadingThenData(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	store := cache.NewMemoryStore()
	f := &fetcher{data: fakeJobs(3), gate: make(chan struct{})}
	q := newJobsQuery(store, f, now)

	st := q.Load(context.Background())
	assert.False(t, st.HasCache)
	assert.Empty(t, st.Data)

	done := make(chan State[[]api.JobEntry], 1)
	go func() {
		st, err := q.Refetch(context.Background())
		assert.NoError(t, err)
		done <- st
	}()

	require.Eventually(t, func() bool { return q.State().IsLoading }, time.Second, time.Millisecond)
	close(f.gate)
	st = <-done

	assert.False(t, st.IsLoading)
	assert.False(t, st.IsShowingCachedData)
	assert.Equal(t, f.data, st.Data)
	assert.True(t, st.HasCache)

	env, ok := cache.Read[[]api.JobEntry](context.Background(), store, cache.JobTracker, testUser, now)
	require.True(t, ok)
	assert.Equal(t, now.UnixMilli(), env.Timestamp)
	assert.Equal(t, testUser, env.UserID)
	assert.Len(t, env.Data, 3)
}

// A reload inside the TTL with the network down shows the cached list at
// once and keeps it after the failed fetch.
func TestReloadOfflineShowsCachedData(t *testing.T) {
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	store := cache.NewMemoryStore()
	cached := fakeJobs(4)
	require.NoError(t, cache.Write(context.Background(), store, cache.JobTracker, testUser, cached, now.Add(-10*time.Minute)))

	f := &fetcher{err: errNetwork}
	q := newJobsQuery(store, f, now)

	st := q.Load(context.Background())
	assert.True(t, st.IsShowingCachedData)
	assert.True(t, st.HasCache)
	assert.Equal(t, cached, st.Data)

	st, err := q.Refetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cached, st.Data)
	assert.True(t, st.ConnectionIssue)
	assert.True(t, st.IsShowingCachedData)
	assert.NoError(t, st.Err)
	assert.False(t, st.IsLoading)
}

func TestNoSpinnerWhileCacheIsShown(t *testing.T) {
	now := time.Now()
	store := cache.NewMemoryStore()
	require.NoError(t, cache.Write(context.Background(), store, cache.JobTracker, testUser, fakeJobs(1), now))

	f := &fetcher{data: fakeJobs(2), gate: make(chan struct{})}
	q := newJobsQuery(store, f, now)
	q.Load(context.Background())

	var mu sync.Mutex
	var sawLoading bool
	q.Subscribe(func(st State[[]api.JobEntry]) {
		mu.Lock()
		sawLoading = sawLoading || st.IsLoading
		mu.Unlock()
	})

	close(f.gate)
	_, err := q.Refetch(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, sawLoading)
}

func TestFetchFailureWithoutCache(t *testing.T) {
	f := &fetcher{err: errNetwork}
	q := newJobsQuery(cache.NewMemoryStore(), f, time.Now())
	q.Load(context.Background())

	st, err := q.Refetch(context.Background())
	assert.ErrorIs(t, err, errNetwork)
	assert.ErrorIs(t, st.Err, errNetwork)
	assert.False(t, st.ConnectionIssue)
	assert.False(t, st.IsLoading)
	assert.Empty(t, st.Data)
}

func TestFailWithoutFetching(t *testing.T) {
	now := time.Now()
	store := cache.NewMemoryStore()
	cached := fakeJobs(2)
	require.NoError(t, cache.Write(context.Background(), store, cache.JobTracker, testUser, cached, now))

	f := &fetcher{data: fakeJobs(3)}
	q := newJobsQuery(store, f, now)
	q.Load(context.Background())

	st, err := q.Fail(errNetwork)
	require.NoError(t, err)
	assert.True(t, st.ConnectionIssue)
	assert.Equal(t, cached, st.Data)
	assert.Equal(t, 0, f.calls)

	empty := newJobsQuery(cache.NewMemoryStore(), f, now)
	empty.Load(context.Background())
	st, err = empty.Fail(errNetwork)
	assert.ErrorIs(t, err, errNetwork)
	assert.ErrorIs(t, st.Err, errNetwork)
}

func TestSuccessClearsStaleFlags(t *testing.T) {
	now := time.Now()
	store := cache.NewMemoryStore()
	require.NoError(t, cache.Write(context.Background(), store, cache.JobTracker, testUser, fakeJobs(1), now))

	f := &fetcher{err: errNetwork}
	q := newJobsQuery(store, f, now)
	q.Load(context.Background())
	st, _ := q.Refetch(context.Background())
	require.True(t, st.ConnectionIssue)

	f.mu.Lock()
	f.err = nil
	f.data = fakeJobs(2)
	f.mu.Unlock()

	st, err := q.Refetch(context.Background())
	require.NoError(t, err)
	assert.False(t, st.ConnectionIssue)
	assert.False(t, st.IsShowingCachedData)
	assert.Len(t, st.Data, 2)
}

func TestNotReadyYieldsEmpty(t *testing.T) {
	f := &fetcher{data: fakeJobs(2)}
	q := New(Options[[]api.JobEntry]{
		Entity: cache.JobTracker,
		Store:  cache.NewMemoryStore(),
		Fetch:  f.Fetch,
		Ready:  func() bool { return false },
		Empty:  []api.JobEntry{},
	})

	st, err := q.Refetch(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, st.Data)
	assert.Empty(t, st.Data)
	assert.NoError(t, st.Err)
	assert.Equal(t, 0, f.Calls())
}

func TestLoadIgnoresOtherUsersCache(t *testing.T) {
	now := time.Now()
	store := cache.NewMemoryStore()
	require.NoError(t, cache.Write(context.Background(), store, cache.JobTracker, "someone_else", fakeJobs(2), now))

	q := newJobsQuery(store, &fetcher{}, now)
	st := q.Load(context.Background())
	assert.False(t, st.HasCache)
	assert.Empty(t, st.Data)
}

func TestLoadExpiredCacheIsMiss(t *testing.T) {
	now := time.Now()
	store := cache.NewMemoryStore()
	stamp := now.Add(-cache.JobTracker.TTL - time.Millisecond)
	require.NoError(t, cache.Write(context.Background(), store, cache.JobTracker, testUser, fakeJobs(2), stamp))

	q := newJobsQuery(store, &fetcher{}, now)
	assert.False(t, q.Load(context.Background()).HasCache)

	_, err := store.Get(context.Background(), cache.JobTracker.Key())
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestMutateRewritesCache(t *testing.T) {
	now := time.Now()
	store := cache.NewMemoryStore()
	q := newJobsQuery(store, &fetcher{}, now)

	job := fakeJob()
	q.Mutate(context.Background(), func(jobs []api.JobEntry) []api.JobEntry {
		return append(jobs, job)
	})

	env, ok := cache.Read[[]api.JobEntry](context.Background(), store, cache.JobTracker, testUser, now)
	require.True(t, ok)
	require.Len(t, env.Data, 1)
	assert.Equal(t, job.ID, env.Data[0].ID)
}

func TestInvalidate(t *testing.T) {
	now := time.Now()
	store := cache.NewMemoryStore()
	require.NoError(t, cache.Write(context.Background(), store, cache.JobTracker, testUser, fakeJobs(1), now))

	q := newJobsQuery(store, &fetcher{}, now)
	q.Load(context.Background())
	require.NoError(t, q.Invalidate(context.Background()))

	st := q.State()
	assert.False(t, st.HasCache)
	assert.Len(t, st.Data, 1)
	_, err := store.Get(context.Background(), cache.JobTracker.Key())
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	q := newJobsQuery(cache.NewMemoryStore(), &fetcher{data: fakeJobs(1)}, time.Now())

	var n int
	stop := q.Subscribe(func(State[[]api.JobEntry]) { n++ })
	_, err := q.Refetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n, "loading and settled")

	stop()
	_, err = q.Refetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
