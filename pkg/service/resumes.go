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

// ResumesService lists uploaded resumes.
type ResumesService struct {
	Base
	q *query.Query[[]api.UserResume]
}

// NewResumesService creates a new resumes service
func NewResumesService(c *container.Container) *ResumesService {
	s := &ResumesService{Base: newBase(c)}
	s.q = newQuery(s.Base, cache.Resumes, []api.UserResume{},
		func(ctx context.Context, profileID string) ([]api.UserResume, error) {
			return s.backend().ListResumes(ctx, profileID)
		})
	return s
}

// List prints the resumes, default first.
func (s *ResumesService) List(ctx context.Context, opts ListOptions) error {
	_, err := present(ctx, s.Base, s.q, opts, func(resumes []api.UserResume) error {
		title := fmt.Sprintf("Resumes (%d)", len(resumes))
		return output.PrintList(title, resumes, formatter.ResumeHeaders, formatter.ResumeRows(resumes),
			"No resumes uploaded. Upload one at https://aspirely.ai/resumes.")
	})
	return err
}
