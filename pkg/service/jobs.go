package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/api"
	"github.com/aspirely/aspirely-cli/pkg/auth"
	"github.com/aspirely/aspirely-cli/pkg/cache"
	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/container"
	clierrors "github.com/aspirely/aspirely-cli/pkg/errors"
	"github.com/aspirely/aspirely-cli/pkg/formatter"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/metrics"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/aspirely/aspirely-cli/pkg/query"
	"github.com/aspirely/aspirely-cli/pkg/realtime"
	"github.com/google/uuid"
)

// JobInput describes a new tracker card.
type JobInput struct {
	Company     string
	Title       string
	URL         string
	Description string
	Comments    string
	Status      api.JobStatus
}

// JobPatch changes some fields of a card. Nil fields are left alone.
type JobPatch struct {
	Company     *string
	Title       *string
	URL         *string
	Description *string
	Comments    *string
}

func (p JobPatch) empty() bool {
	return p.Company == nil && p.Title == nil && p.URL == nil && p.Description == nil && p.Comments == nil
}

// apply patches j and returns the column changes.
func (p JobPatch) apply(j *api.JobEntry) map[string]any {
	cols := map[string]any{}
	set := func(col string, v *string, dst *string) {
		if v != nil {
			*dst = *v
			cols[col] = *v
		}
	}
	set("company", p.Company, &j.Company)
	set("job_title", p.Title, &j.JobTitle)
	set("job_url", p.URL, &j.JobURL)
	set("job_description", p.Description, &j.JobDescription)
	set("comments", p.Comments, &j.Comments)
	return cols
}

// JobsService manages the job tracker with optimistic updates.
type JobsService struct {
	Base
	list *query.OptimisticList[api.JobEntry]
}

// NewJobsService creates a new jobs service
func NewJobsService(c *container.Container) *JobsService {
	s := &JobsService{Base: newBase(c)}
	s.list = query.NewOptimisticList(queryOptions(s.Base, cache.JobTracker, []api.JobEntry{},
		func(ctx context.Context, profileID string) ([]api.JobEntry, error) {
			return s.backend().ListJobs(ctx, profileID)
		}))
	return s
}

// List prints the tracker, optionally one column only.
func (s *JobsService) List(ctx context.Context, status string, opts ListOptions) error {
	var column api.JobStatus
	if status != "" {
		var err error
		if column, err = api.ParseJobStatus(status); err != nil {
			return clierrors.ValidationError("status", err.Error())
		}
	}

	_, err := present(ctx, s.Base, s.list.Query(), opts, func(jobs []api.JobEntry) error {
		return s.render(filterJobs(jobs, column))
	})
	return err
}

func (s *JobsService) render(jobs []api.JobEntry) error {
	title := fmt.Sprintf("Job tracker (%d)", len(jobs))
	rows := formatter.JobRows(jobs, s.list.PendingIDs())
	return output.PrintList(title, jobs, formatter.JobHeaders, rows, "No jobs tracked yet. Add one with 'aspirely jobs add'.")
}

func filterJobs(jobs []api.JobEntry, column api.JobStatus) []api.JobEntry {
	if column == "" {
		return jobs
	}
	out := make([]api.JobEntry, 0, len(jobs))
	for _, j := range jobs {
		if j.Status == column {
			out = append(out, j)
		}
	}
	return out
}

// prime makes sure the list holds data before it is mutated.
func (s *JobsService) prime(ctx context.Context) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	if st := s.list.Query().Load(ctx); st.HasCache {
		return nil
	}
	_, err := s.list.Query().Refetch(ctx)
	return err
}

func (s *JobsService) find(ctx context.Context, ref string) (api.JobEntry, error) {
	if err := s.prime(ctx); err != nil {
		return api.JobEntry{}, err
	}
	return resolveID(s.list.Items(), ref, "job")
}

// columnSize counts the cards in a column.
func (s *JobsService) columnSize(status api.JobStatus) int {
	n := 0
	for _, j := range s.list.Items() {
		if j.Status == status {
			n++
		}
	}
	return n
}

// Add creates a card. It is shown at once and rolled back if the backend
// rejects it.
func (s *JobsService) Add(ctx context.Context, in JobInput) (*api.JobEntry, error) {
	if strings.TrimSpace(in.Company) == "" {
		return nil, clierrors.ValidationError("company", "is required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, clierrors.ValidationError("title", "is required")
	}
	if in.Status == "" {
		in.Status = api.StatusSaved
	}
	if err := s.prime(ctx); err != nil {
		return nil, err
	}
	pid, err := s.profileID(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := api.JobEntry{
		ID:             uuid.NewString(),
		ProfileID:      pid,
		Company:        strings.TrimSpace(in.Company),
		JobTitle:       strings.TrimSpace(in.Title),
		JobURL:         in.URL,
		JobDescription: in.Description,
		Comments:       in.Comments,
		Status:         in.Status,
		Position:       s.columnSize(in.Status),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return s.insert(ctx, job)
}

// insert adds a prepared card through the optimistic list.
func (s *JobsService) insert(ctx context.Context, job api.JobEntry) (*api.JobEntry, error) {
	m := s.list.Add(ctx, job)
	created, err := s.list.Commit(ctx, m, func(ctx context.Context) (api.JobEntry, error) {
		return s.write(ctx, "create_job", func(ctx context.Context) (*api.JobEntry, error) {
			return s.backend().CreateJob(ctx, job)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("add job: %w", err)
	}
	return &created, nil
}

// Move changes a card's column. A negative position appends it.
func (s *JobsService) Move(ctx context.Context, ref, status string, position int) (*api.JobEntry, error) {
	column, err := api.ParseJobStatus(status)
	if err != nil {
		return nil, clierrors.ValidationError("status", err.Error())
	}
	job, err := s.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	if position < 0 {
		position = s.columnSize(column)
		if job.Status == column {
			position--
		}
	}

	next := job
	next.Status = column
	next.Position = position
	next.UpdatedAt = s.now().UTC()
	return s.update(ctx, next, func(ctx context.Context) (*api.JobEntry, error) {
		return s.backend().MoveJob(ctx, job.ID, column, position)
	})
}

// Update edits a card's details.
func (s *JobsService) Update(ctx context.Context, ref string, patch JobPatch) (*api.JobEntry, error) {
	if patch.empty() {
		return nil, clierrors.ValidationError("fields", "nothing to update")
	}
	job, err := s.find(ctx, ref)
	if err != nil {
		return nil, err
	}

	next := job
	cols := patch.apply(&next)
	next.UpdatedAt = s.now().UTC()
	return s.update(ctx, next, func(ctx context.Context) (*api.JobEntry, error) {
		return s.backend().UpdateJob(ctx, job.ID, cols)
	})
}

// Check sets one checklist item of a card.
func (s *JobsService) Check(ctx context.Context, ref, item string, done bool) (*api.JobEntry, error) {
	job, err := s.find(ctx, ref)
	if err != nil {
		return nil, err
	}

	next := job
	if err := next.SetChecked(item, done); err != nil {
		return nil, clierrors.ValidationError("item", err.Error())
	}
	next.UpdatedAt = s.now().UTC()
	return s.update(ctx, next, func(ctx context.Context) (*api.JobEntry, error) {
		return s.backend().UpdateJob(ctx, job.ID, map[string]any{item: done})
	})
}

func (s *JobsService) update(ctx context.Context, next api.JobEntry, call func(context.Context) (*api.JobEntry, error)) (*api.JobEntry, error) {
	m, ok := s.list.Update(ctx, next)
	if !ok {
		return nil, clierrors.NotFoundError("job", next.ID)
	}
	saved, err := s.list.Commit(ctx, m, func(ctx context.Context) (api.JobEntry, error) {
		return s.write(ctx, "update_job", call)
	})
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	return &saved, nil
}

// Find resolves a card by id or id prefix.
func (s *JobsService) Find(ctx context.Context, ref string) (*api.JobEntry, error) {
	job, err := s.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Delete removes a card. It disappears at once and comes back where it
// was if the backend refuses.
func (s *JobsService) Delete(ctx context.Context, ref string) (*api.JobEntry, error) {
	job, err := s.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	m, ok := s.list.Delete(ctx, job.ID)
	if !ok {
		return nil, clierrors.NotFoundError("job", job.ID)
	}
	_, err = s.list.Commit(ctx, m, func(ctx context.Context) (api.JobEntry, error) {
		err := auth.Do(ctx, s.c.Session(), "delete_job", s.maxRetries(), func(ctx context.Context) error {
			return s.backend().DeleteJob(ctx, job.ID)
		})
		return job, err
	})
	if err != nil {
		return nil, fmt.Errorf("delete job: %w", err)
	}
	return &job, nil
}

// Items returns the cards currently shown.
func (s *JobsService) Items() []api.JobEntry {
	return s.list.Items()
}

func (s *JobsService) write(ctx context.Context, label string, call func(context.Context) (*api.JobEntry, error)) (api.JobEntry, error) {
	j, err := auth.Execute(ctx, s.c.Session(), label, s.maxRetries(), call)
	if err != nil {
		return api.JobEntry{}, err
	}
	return *j, nil
}

// Watch prints the tracker and reprints it on every change until ctx
// ends. When metrics.addr is set the process metrics are served there.
func (s *JobsService) Watch(ctx context.Context) error {
	if err := s.prime(ctx); err != nil {
		return err
	}
	pid, err := s.profileID(ctx)
	if err != nil {
		return err
	}
	rt := s.c.Realtime()
	if rt == nil {
		return fmt.Errorf("realtime is not configured")
	}

	if addr := config.GetString("metrics.addr"); addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				logger.Error("Metrics server stopped", "addr", addr, "error", err)
			}
		}()
		logger.Info("Serving metrics", "addr", addr)
	}

	sub, err := rt.Subscribe(ctx, realtime.Filter{
		Table:  api.TableJobTracker,
		Filter: "profile_id=eq." + pid,
	})
	if err != nil {
		return fmt.Errorf("subscribe to job changes: %w", err)
	}
	defer sub.Close()

	if err := s.render(s.list.Items()); err != nil {
		return err
	}
	output.PrintInfo("Watching for changes. Press Ctrl+C to stop.")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ch, ok := <-sub.Events():
			if !ok {
				return nil
			}
			logger.Debug("Job tracker changed", "type", ch.Type)
			st, err := s.list.Query().Refetch(ctx)
			if err != nil {
				output.PrintCLIError(err)
				continue
			}
			fmt.Fprintf(output.Out, "\n[%s] %s\n", s.now().Format(time.TimeOnly), strings.ToLower(string(ch.Type)))
			output.PrintFreshness(false, st.ConnectionIssue, st.UpdatedAt)
			if err := s.render(st.Data); err != nil {
				return err
			}
		}
	}
}
