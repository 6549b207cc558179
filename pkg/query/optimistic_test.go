package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/api"
	"github.com/aspirely/aspirely-cli/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errWrite = errors.New("insert failed")

func newJobsList(t *testing.T, f *fetcher) *OptimisticList[api.JobEntry] {
	t.Helper()
	l := NewOptimisticList(Options[[]api.JobEntry]{
		Entity: cache.JobTracker,
		Store:  cache.NewMemoryStore(),
		Fetch:  f.Fetch,
		UserID: func() string { return testUser },
		Empty:  []api.JobEntry{},
	})
	_, err := l.Query().Refetch(context.Background())
	require.NoError(t, err)
	return l
}

func ids(jobs []api.JobEntry) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func countID(jobs []api.JobEntry, id string) int {
	n := 0
	for _, j := range jobs {
		if j.ID == id {
			n++
		}
	}
	return n
}

// An optimistic add followed by a refetch that already contains the job
// shows the job once.
func TestAddThenRefetchDoesNotDuplicate(t *testing.T) {
	f := &fetcher{data: fakeJobs(2)}
	l := newJobsList(t, f)
	ctx := context.Background()

	job := fakeJob()
	m := l.Add(ctx, job)
	assert.Equal(t, Pending, m.Status())
	assert.Equal(t, job.ID, l.Items()[0].ID)

	f.mu.Lock()
	f.data = append(f.data, job)
	f.mu.Unlock()

	_, err := l.Query().Refetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, countID(l.Items(), job.ID))
	assert.Len(t, l.Items(), 3)

	l.Confirm(ctx, m, job)
	assert.Equal(t, 1, countID(l.Items(), job.ID))
}

func TestPendingAddSurvivesRefetch(t *testing.T) {
	f := &fetcher{data: fakeJobs(2)}
	l := newJobsList(t, f)
	ctx := context.Background()

	job := fakeJob()
	l.Add(ctx, job)

	_, err := l.Query().Refetch(ctx)
	require.NoError(t, err)
	assert.Equal(t, job.ID, l.Items()[0].ID)
	assert.Len(t, l.Items(), 3)
	assert.Equal(t, map[string]bool{job.ID: true}, l.PendingIDs())
}

func TestConfirmReplacesWithServerRow(t *testing.T) {
	l := newJobsList(t, &fetcher{data: fakeJobs(1)})
	ctx := context.Background()

	job := fakeJob()
	m := l.Add(ctx, job)

	server := job
	server.Position = 7
	server.CreatedAt = time.Now()
	l.Confirm(ctx, m, server)

	assert.Equal(t, Confirmed, m.Status())
	assert.Equal(t, 0, l.Pending())
	assert.Equal(t, 7, l.Items()[0].Position)
}

func TestFailRollsBackAdd(t *testing.T) {
	l := newJobsList(t, &fetcher{data: fakeJobs(2)})
	ctx := context.Background()
	before := ids(l.Items())

	m := l.Add(ctx, fakeJob())
	l.Fail(ctx, m, errWrite)

	assert.Equal(t, Failed, m.Status())
	assert.ErrorIs(t, m.Err(), errWrite)
	assert.Equal(t, before, ids(l.Items()))
	assert.Equal(t, 0, l.Pending())
}

func TestFailRollsBackUpdate(t *testing.T) {
	l := newJobsList(t, &fetcher{data: fakeJobs(3)})
	ctx := context.Background()
	orig := l.Items()[1]

	moved := orig
	moved.Status = api.StatusInterview
	m, ok := l.Update(ctx, moved)
	require.True(t, ok)
	assert.Equal(t, api.StatusInterview, l.Items()[1].Status)

	l.Fail(ctx, m, errWrite)
	assert.Equal(t, orig, l.Items()[1])
}

func TestFailRollsBackDeleteAtIndex(t *testing.T) {
	l := newJobsList(t, &fetcher{data: fakeJobs(4)})
	ctx := context.Background()
	before := ids(l.Items())

	m, ok := l.Delete(ctx, before[2])
	require.True(t, ok)
	assert.Equal(t, 0, countID(l.Items(), before[2]))

	l.Fail(ctx, m, errWrite)
	assert.Equal(t, before, ids(l.Items()))
}

func TestStackedUpdatesRollBackToServerValue(t *testing.T) {
	tests := []struct {
		name  string
		order []int
	}{
		{"oldest first", []int{0, 1}},
		{"newest first", []int{1, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newJobsList(t, &fetcher{data: fakeJobs(2)})
			ctx := context.Background()
			orig := l.Items()[0]

			second := orig
			second.Comments = "second"
			m1, ok := l.Update(ctx, second)
			require.True(t, ok)

			third := second
			third.Comments = "third"
			m2, ok := l.Update(ctx, third)
			require.True(t, ok)

			muts := []*Mutation[api.JobEntry]{m1, m2}
			l.Fail(ctx, muts[tt.order[0]], errWrite)
			assert.Equal(t, muts[tt.order[1]].Item.Comments, l.Items()[0].Comments, "the other update stays applied")

			l.Fail(ctx, muts[tt.order[1]], errWrite)
			assert.Equal(t, orig, l.Items()[0])
			assert.Equal(t, 0, l.Pending())
		})
	}
}

func TestFailAfterStackedConfirmKeepsServerRow(t *testing.T) {
	l := newJobsList(t, &fetcher{data: fakeJobs(1)})
	ctx := context.Background()
	orig := l.Items()[0]

	first := orig
	first.Comments = "first"
	m1, _ := l.Update(ctx, first)
	second := first
	second.Comments = "second"
	m2, _ := l.Update(ctx, second)

	stored := first
	stored.Position = 4
	l.Confirm(ctx, m1, stored)
	assert.Equal(t, "second", l.Items()[0].Comments, "pending update still shown")

	l.Fail(ctx, m2, errWrite)
	assert.Equal(t, stored, l.Items()[0])
}

func TestUpdateThenDeleteRollback(t *testing.T) {
	l := newJobsList(t, &fetcher{data: fakeJobs(3)})
	ctx := context.Background()
	before := l.Items()
	orig := before[1]

	edited := orig
	edited.Comments = "edited"
	mUpd, _ := l.Update(ctx, edited)
	md, ok := l.Delete(ctx, orig.ID)
	require.True(t, ok)

	l.Fail(ctx, mUpd, errWrite)
	assert.Equal(t, 0, countID(l.Items(), orig.ID), "delete still pending")

	l.Fail(ctx, md, errWrite)
	assert.Equal(t, before, l.Items())
}

func TestMutationStatusIsSafeToPoll(t *testing.T) {
	l := newJobsList(t, &fetcher{data: fakeJobs(1)})
	ctx := context.Background()
	m := l.Add(ctx, fakeJob())

	go l.Fail(ctx, m, errWrite)
	require.Eventually(t, func() bool { return m.Status() == Failed }, time.Second, time.Millisecond)
	assert.ErrorIs(t, m.Err(), errWrite)
}

func TestUpdateAndDeleteUnknownID(t *testing.T) {
	l := newJobsList(t, &fetcher{data: fakeJobs(1)})
	ctx := context.Background()

	_, ok := l.Update(ctx, fakeJob())
	assert.False(t, ok)
	_, ok = l.Delete(ctx, "missing")
	assert.False(t, ok)
	assert.Equal(t, 0, l.Pending())
}

func TestSettleIsOnce(t *testing.T) {
	l := newJobsList(t, &fetcher{data: fakeJobs(1)})
	ctx := context.Background()

	job := fakeJob()
	m := l.Add(ctx, job)
	l.Confirm(ctx, m, job)
	l.Fail(ctx, m, errWrite)

	assert.Equal(t, Confirmed, m.Status())
	assert.NoError(t, m.Err())
	assert.Equal(t, 1, countID(l.Items(), job.ID))
}

func TestCommit(t *testing.T) {
	l := newJobsList(t, &fetcher{data: fakeJobs(1)})
	ctx := context.Background()

	t.Run("success confirms", func(t *testing.T) {
		job := fakeJob()
		m := l.Add(ctx, job)
		got, err := l.Commit(ctx, m, func(context.Context) (api.JobEntry, error) { return job, nil })
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, Confirmed, m.Status())
	})

	t.Run("failure rolls back", func(t *testing.T) {
		job := fakeJob()
		m := l.Add(ctx, job)
		_, err := l.Commit(ctx, m, func(context.Context) (api.JobEntry, error) { return api.JobEntry{}, errWrite })
		assert.ErrorIs(t, err, errWrite)
		assert.Equal(t, 0, countID(l.Items(), job.ID))
	})
}

func TestReconcile(t *testing.T) {
	server := fakeJobs(4)
	l := newJobsList(t, &fetcher{data: server})
	ctx := context.Background()

	edited := server[1]
	edited.Comments = "local edit"
	_, ok := l.Update(ctx, edited)
	require.True(t, ok)
	_, ok = l.Delete(ctx, server[3].ID)
	require.True(t, ok)

	remote := append([]api.JobEntry(nil), server...)
	remote[0].Comments = "remote edit"
	remote[1].Comments = "remote edit"
	remote = append(remote, remote[2])

	got := l.Reconcile(remote)
	require.Equal(t, []string{server[0].ID, server[1].ID, server[2].ID}, ids(got))
	assert.Equal(t, "remote edit", got[0].Comments, "server wins without a pending mutation")
	assert.Equal(t, "local edit", got[1].Comments, "pending update is laid over")
}

func TestMutationStatusString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "confirmed", Confirmed.String())
	assert.Equal(t, "failed", Failed.String())
}
