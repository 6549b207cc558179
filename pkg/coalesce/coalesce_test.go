package coalesce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentCallsShareOneRun(t *testing.T) {
	var g Group
	var runs atomic.Int32
	release := make(chan struct{})

	fn := func(context.Context) (string, error) {
		runs.Add(1)
		<-release
		return "profile_1", nil
	}

	const n = 8
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Do(context.Background(), &g, "init:user_1", fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), runs.Load())
	for _, r := range results {
		assert.Equal(t, "profile_1", r)
	}
}

func TestResultIsRemembered(t *testing.T) {
	var g Group
	runs := 0
	fn := func(context.Context) (int, error) {
		runs++
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := Do(context.Background(), &g, "k", fn)
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	}
	assert.Equal(t, 1, runs)
	assert.Equal(t, 1, g.Len())
}

func TestShareJoinsButDoesNotRemember(t *testing.T) {
	var g Group
	var runs atomic.Int32
	release := make(chan struct{})
	fn := func(context.Context) (int, error) {
		n := runs.Add(1)
		<-release
		return int(n), nil
	}

	const n = 4
	var wg sync.WaitGroup
	results := make([]int, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := Share(context.Background(), &g, "bootstrap:user_1", fn)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, 1, r)
	}
	assert.Equal(t, 0, g.Len())

	v, err := Share(context.Background(), &g, "bootstrap:user_1", fn)
	require.NoError(t, err)
	assert.Equal(t, 2, v, "a later call runs again")
}

func TestErrorsAreNotRemembered(t *testing.T) {
	var g Group
	boom := errors.New("boom")
	runs := 0
	fn := func(context.Context) (int, error) {
		runs++
		if runs == 1 {
			return 0, boom
		}
		return 7, nil
	}

	_, err := Do(context.Background(), &g, "k", fn)
	assert.ErrorIs(t, err, boom)

	v, err := Do(context.Background(), &g, "k", fn)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestResetAndForget(t *testing.T) {
	var g Group
	runs := 0
	fn := func(context.Context) (int, error) {
		runs++
		return runs, nil
	}

	_, _ = Do(context.Background(), &g, "a", fn)
	_, _ = Do(context.Background(), &g, "b", fn)
	assert.Equal(t, 2, g.Len())

	g.Forget("a")
	v, _ := Do(context.Background(), &g, "a", fn)
	assert.Equal(t, 3, v)

	g.Reset()
	assert.Equal(t, 0, g.Len())
	v, _ = Do(context.Background(), &g, "b", fn)
	assert.Equal(t, 4, v)
}

func TestCallerCancellation(t *testing.T) {
	var g Group
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := Do(ctx, &g, "slow", func(context.Context) (int, error) {
			<-release
			return 1, nil
		})
		errc <- err
	}()

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}
