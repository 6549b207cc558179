package service

import (
	"context"

	"github.com/aspirely/aspirely-cli/pkg/cache"
	"github.com/aspirely/aspirely-cli/pkg/container"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/aspirely/aspirely-cli/pkg/query"
)

// CreditsService reads the credit balance.
type CreditsService struct {
	Base
	q *query.Query[int]
}

// NewCreditsService creates a new credits service
func NewCreditsService(c *container.Container) *CreditsService {
	s := &CreditsService{Base: newBase(c)}
	s.q = newQuery(s.Base, cache.Credits, 0, func(ctx context.Context, profileID string) (int, error) {
		return s.backend().GetCredits(ctx, profileID)
	})
	return s
}

// Show prints the balance.
func (s *CreditsService) Show(ctx context.Context, opts ListOptions) error {
	_, err := present(ctx, s.Base, s.q, opts, func(n int) error {
		if output.IsJSON() {
			return output.Print("", map[string]int{"credits": n})
		}
		output.PrintInfo("Credits: %d", n)
		return nil
	})
	return err
}

// Balance returns the freshest balance available. A connection problem
// falls back to the cached value.
func (s *CreditsService) Balance(ctx context.Context) (int, error) {
	if err := s.requireSession(); err != nil {
		return 0, err
	}
	s.q.Load(ctx)
	st, err := s.q.Refetch(ctx)
	return st.Data, err
}

// Invalidate drops the cached balance, e.g. after a paid generation.
func (s *CreditsService) Invalidate(ctx context.Context) error {
	return s.q.Invalidate(ctx)
}
