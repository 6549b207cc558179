package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aspirely/aspirely-cli/pkg/api"
	"github.com/aspirely/aspirely-cli/pkg/auth"
	"github.com/aspirely/aspirely-cli/pkg/cache"
	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/container"
	clierrors "github.com/aspirely/aspirely-cli/pkg/errors"
	"github.com/aspirely/aspirely-cli/pkg/formatter"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/observer"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/aspirely/aspirely-cli/pkg/query"
	"github.com/aspirely/aspirely-cli/pkg/realtime"
	"github.com/google/uuid"
)

// GenerateRequest is the input of an AI generation. Company, title and
// description are taken from the tracker card named by JobRef unless set.
type GenerateRequest struct {
	JobRef      string
	Company     string
	Title       string
	Description string

	Tone          string
	InterviewType string
	CompanyURL    string
	Topic         string

	// Wait blocks until the generation finishes.
	Wait bool
}

// ContentKind describes one kind of generated content.
type ContentKind[T api.Content] struct {
	Title  string
	Entity cache.Entity
	Build  func(g api.Generation, req GenerateRequest) T
}

var (
	CoverLetters = ContentKind[api.CoverLetter]{
		Title:  "Cover letter",
		Entity: cache.CoverLetters,
		Build: func(g api.Generation, req GenerateRequest) api.CoverLetter {
			return api.CoverLetter{Generation: g, Tone: req.Tone}
		},
	}
	InterviewPreps = ContentKind[api.InterviewPrep]{
		Title:  "Interview prep",
		Entity: cache.InterviewPrep,
		Build: func(g api.Generation, req GenerateRequest) api.InterviewPrep {
			return api.InterviewPrep{Generation: g, InterviewType: req.InterviewType}
		},
	}
	CompanyAnalyses = ContentKind[api.CompanyAnalysis]{
		Title:  "Company analysis",
		Entity: cache.CompanyAnalyses,
		Build: func(g api.Generation, req GenerateRequest) api.CompanyAnalysis {
			return api.CompanyAnalysis{Generation: g, CompanyURL: req.CompanyURL}
		},
	}
	LinkedInPosts = ContentKind[api.LinkedInPost]{
		Title:  "LinkedIn post",
		Entity: cache.LinkedInPosts,
		Build: func(g api.Generation, req GenerateRequest) api.LinkedInPost {
			return api.LinkedInPost{Generation: g, Topic: req.Topic}
		},
	}
)

// ContentService lists, shows, generates and deletes one kind of
// generated content.
type ContentService[T api.Content] struct {
	Base
	kind ContentKind[T]
	list *query.OptimisticList[T]
}

// NewContentService creates a service for kind.
func NewContentService[T api.Content](c *container.Container, kind ContentKind[T]) *ContentService[T] {
	s := &ContentService[T]{Base: newBase(c), kind: kind}
	s.list = query.NewOptimisticList(queryOptions(s.Base, kind.Entity, []T{},
		func(ctx context.Context, profileID string) ([]T, error) {
			return api.ListContent[T](ctx, s.backend(), profileID)
		}))
	return s
}

func (s *ContentService[T]) noun() string {
	return strings.ToLower(s.kind.Title)
}

// List prints the history.
func (s *ContentService[T]) List(ctx context.Context, opts ListOptions) error {
	_, err := present(ctx, s.Base, s.list.Query(), opts, func(rows []T) error {
		title := fmt.Sprintf("%ss (%d)", s.kind.Title, len(rows))
		return output.PrintList(title, rows, formatter.ContentHeaders, formatter.ContentRows(rows),
			fmt.Sprintf("No %ss yet. Create one with 'generate'.", s.noun()))
	})
	return err
}

func (s *ContentService[T]) prime(ctx context.Context) error {
	if err := s.requireSession(); err != nil {
		return err
	}
	if st := s.list.Query().Load(ctx); st.HasCache {
		return nil
	}
	_, err := s.list.Query().Refetch(ctx)
	return err
}

func (s *ContentService[T]) get(ctx context.Context, id string) (T, error) {
	return auth.Execute(ctx, s.c.Session(), s.kind.Entity.Name, s.maxRetries(), func(ctx context.Context) (T, error) {
		return api.GetContent[T](ctx, s.backend(), id)
	})
}

// Find resolves a row by id or id prefix. Rows still generating are
// reloaded so their content is current.
func (s *ContentService[T]) Find(ctx context.Context, ref string) (T, error) {
	var zero T
	if err := s.prime(ctx); err != nil {
		return zero, err
	}
	row, err := resolveID(s.list.Items(), ref, s.noun())
	if err != nil {
		return zero, err
	}
	if api.Done(row) {
		return row, nil
	}
	fresh, err := s.get(ctx, row.GetID())
	if err != nil {
		logger.Debug("Could not reload row", "id", row.GetID(), "error", err)
		return row, nil
	}
	s.replace(ctx, fresh)
	return fresh, nil
}

// Show prints one row with its content.
func (s *ContentService[T]) Show(ctx context.Context, ref string) error {
	row, err := s.Find(ctx, ref)
	if err != nil {
		return err
	}
	return s.print(row)
}

func (s *ContentService[T]) print(row T) error {
	if output.IsJSON() {
		return output.Print("", row)
	}
	if err := output.PrintRecord(s.kind.Title, formatter.ContentFields(row)); err != nil {
		return err
	}
	if body := row.Body(); strings.TrimSpace(body) != "" {
		fmt.Fprintln(output.Out)
		output.PrintBody("", body)
	}
	return nil
}

func (s *ContentService[T]) replace(ctx context.Context, row T) {
	s.list.Query().Mutate(ctx, func(rows []T) []T {
		out := make([]T, len(rows))
		for i, r := range rows {
			if r.GetID() == row.GetID() {
				r = row
			}
			out[i] = r
		}
		return out
	})
}

// Generate inserts a pending row, notifies the generation webhook and,
// when req.Wait is set, waits for the result.
func (s *ContentService[T]) Generate(ctx context.Context, req GenerateRequest) (T, error) {
	var zero T
	if err := s.prime(ctx); err != nil {
		return zero, err
	}
	if req.JobRef != "" {
		job, err := NewJobsService(s.c).Find(ctx, req.JobRef)
		if err != nil {
			return zero, err
		}
		req.Company = firstNonEmpty(req.Company, job.Company)
		req.Title = firstNonEmpty(req.Title, job.JobTitle)
		req.Description = firstNonEmpty(req.Description, job.JobDescription)
	}
	if strings.TrimSpace(req.Company) == "" {
		return zero, clierrors.ValidationError("company", "is required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return zero, clierrors.ValidationError("title", "is required")
	}

	credits := NewCreditsService(s.c)
	if balance, err := credits.Balance(ctx); err != nil {
		logger.Warn("Could not check credits", "error", err)
	} else if balance <= 0 {
		return zero, clierrors.InsufficientCreditsError(balance)
	}

	pid, err := s.profileID(ctx)
	if err != nil {
		return zero, err
	}
	now := s.now().UTC()
	row := s.kind.Build(api.Generation{
		ID:             uuid.NewString(),
		ProfileID:      pid,
		CompanyName:    strings.TrimSpace(req.Company),
		JobTitle:       strings.TrimSpace(req.Title),
		JobDescription: req.Description,
		Status:         api.GenerationPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, req)

	m := s.list.Add(ctx, row)
	created, err := s.list.Commit(ctx, m, func(ctx context.Context) (T, error) {
		return auth.Execute(ctx, s.c.Session(), "create_"+s.kind.Entity.Name, s.maxRetries(), func(ctx context.Context) (T, error) {
			return api.CreateContent(ctx, s.backend(), row)
		})
	})
	if err != nil {
		return zero, fmt.Errorf("request %s: %w", s.noun(), err)
	}
	id := created.GetID()

	if url := config.GetString("generation.webhook_url"); url != "" {
		if err := notifyWebhook(ctx, url, id, api.TableFor[T]()); err != nil {
			logger.Warn("Generation webhook failed", "url", url, "error", err)
		}
	}
	if err := credits.Invalidate(ctx); err != nil {
		logger.Debug("Failed to evict credits cache", "error", err)
	}

	if !req.Wait {
		output.PrintSuccess("%s requested (%s). Check it with 'show %s'.", s.kind.Title, formatter.ShortID(id), formatter.ShortID(id))
		return created, nil
	}

	output.PrintInfo("Generating %s for %s at %s...", s.noun(), created.Meta().JobTitle, created.Meta().CompanyName)
	result, err := s.Wait(ctx, id)
	if err != nil {
		return created, err
	}
	if err := s.print(result); err != nil {
		return result, err
	}
	return result, nil
}

// Wait observes row id until generation finishes.
func (s *ContentService[T]) Wait(ctx context.Context, id string) (T, error) {
	var zero T
	result, err := observer.Observe(ctx, observer.Options[T]{
		Kind: s.kind.Entity.Name,
		Poll: func(ctx context.Context) (T, error) {
			return s.get(ctx, id)
		},
		Subscribe: observer.Realtime[T](s.c.Realtime(), realtime.Filter{
			Table:  api.TableFor[T](),
			Filter: "id=eq." + id,
			Event:  realtime.ChangeUpdate,
		}),
		Done:         func(v T) bool { return api.Done(v) },
		PollInterval: config.GetSeconds("generation.poll_interval_s"),
		Timeout:      config.GetSeconds("generation.timeout_s"),
	})
	if errors.Is(err, observer.ErrTimeout) {
		return zero, clierrors.GenerationTimeoutError(s.kind.Title)
	}
	if err != nil {
		return zero, err
	}

	s.replace(ctx, result)
	if meta := result.Meta(); meta.Status == api.GenerationFailed {
		msg := firstNonEmpty(meta.ErrorMessage, "generation failed")
		return result, clierrors.NewCLIError(clierrors.ErrorTypeServer, fmt.Sprintf("%s failed: %s", s.kind.Title, msg), nil)
	}
	return result, nil
}

// Delete removes a row, restoring it if the backend refuses.
func (s *ContentService[T]) Delete(ctx context.Context, ref string) (T, error) {
	var zero T
	if err := s.prime(ctx); err != nil {
		return zero, err
	}
	row, err := resolveID(s.list.Items(), ref, s.noun())
	if err != nil {
		return zero, err
	}
	m, ok := s.list.Delete(ctx, row.GetID())
	if !ok {
		return zero, clierrors.NotFoundError(s.noun(), ref)
	}
	_, err = s.list.Commit(ctx, m, func(ctx context.Context) (T, error) {
		err := auth.Do(ctx, s.c.Session(), "delete_"+s.kind.Entity.Name, s.maxRetries(), func(ctx context.Context) error {
			return api.DeleteContent[T](ctx, s.backend(), row.GetID())
		})
		return row, err
	})
	if err != nil {
		return zero, fmt.Errorf("delete %s: %w", s.noun(), err)
	}
	return row, nil
}

// Items returns the rows currently shown.
func (s *ContentService[T]) Items() []T {
	return s.list.Items()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
