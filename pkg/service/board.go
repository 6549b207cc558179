package service

import (
	"context"
	"fmt"

	"github.com/aspirely/aspirely-cli/pkg/api"
	"github.com/aspirely/aspirely-cli/pkg/cache"
	"github.com/aspirely/aspirely-cli/pkg/container"
	"github.com/aspirely/aspirely-cli/pkg/formatter"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/aspirely/aspirely-cli/pkg/query"
)

// boardLimit caps how many postings are fetched.
const boardLimit = 100

// BoardService lists job board postings and saves them to the tracker.
type BoardService struct {
	Base
	q *query.Query[[]api.JobBoardEntry]
}

// NewBoardService creates a new board service
func NewBoardService(c *container.Container) *BoardService {
	s := &BoardService{Base: newBase(c)}
	s.q = newQuery(s.Base, cache.JobBoard, []api.JobBoardEntry{},
		func(ctx context.Context, profileID string) ([]api.JobBoardEntry, error) {
			return s.backend().ListBoard(ctx, profileID, boardLimit)
		})
	return s
}

// List prints the newest postings.
func (s *BoardService) List(ctx context.Context, opts ListOptions) error {
	_, err := present(ctx, s.Base, s.q, opts, func(entries []api.JobBoardEntry) error {
		title := fmt.Sprintf("Job board (%d)", len(entries))
		return output.PrintList(title, entries, formatter.BoardHeaders, formatter.BoardRows(entries),
			"No postings yet. New matches from your job alerts appear here.")
	})
	return err
}

// Save copies a posting into the tracker as a saved job.
func (s *BoardService) Save(ctx context.Context, ref string) (*api.JobEntry, error) {
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
	entry, err := resolveID(st.Data, ref, "posting")
	if err != nil {
		return nil, err
	}

	jobs := NewJobsService(s.c)
	if err := jobs.prime(ctx); err != nil {
		return nil, err
	}
	pid, err := s.profileID(ctx)
	if err != nil {
		return nil, err
	}
	job := api.BoardToJob(entry, pid, s.now().UTC())
	job.Position = jobs.columnSize(api.StatusSaved)
	return jobs.insert(ctx, job)
}
