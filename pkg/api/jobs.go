package api

import (
	"context"
	"time"
)

// ListJobs returns the tracker cards of a profile, by column position then
// most recent first.
func (b *Backend) ListJobs(ctx context.Context, profileID string) ([]JobEntry, error) {
	var jobs []JobEntry
	err := b.From(TableJobTracker).
		Select("*").
		Eq("profile_id", profileID).
		Order("position", false).
		Order("created_at", true).
		Execute(ctx, &jobs)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob returns one card.
func (b *Backend) GetJob(ctx context.Context, id string) (*JobEntry, error) {
	var job JobEntry
	if err := b.From(TableJobTracker).Select("*").Eq("id", id).Single().Execute(ctx, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJob inserts a card. The id is chosen by the caller so an
// optimistic row and the stored row share it.
func (b *Backend) CreateJob(ctx context.Context, job JobEntry) (*JobEntry, error) {
	var created JobEntry
	if err := b.From(TableJobTracker).Single().Insert(ctx, job, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// UpdateJob patches a card.
func (b *Backend) UpdateJob(ctx context.Context, id string, patch map[string]any) (*JobEntry, error) {
	if _, ok := patch["updated_at"]; !ok {
		patch["updated_at"] = time.Now().UTC()
	}
	var updated JobEntry
	if err := b.From(TableJobTracker).Eq("id", id).Single().Update(ctx, patch, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// MoveJob changes a card's column and position.
func (b *Backend) MoveJob(ctx context.Context, id string, status JobStatus, position int) (*JobEntry, error) {
	return b.UpdateJob(ctx, id, map[string]any{
		"status":   status,
		"position": position,
	})
}

// DeleteJob removes a card.
func (b *Backend) DeleteJob(ctx context.Context, id string) error {
	return b.From(TableJobTracker).Eq("id", id).Delete(ctx)
}
