package api

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListBoard returns the job board for a profile, newest postings first.
func (b *Backend) ListBoard(ctx context.Context, profileID string, limit int) ([]JobBoardEntry, error) {
	q := b.From(TableJobBoard).
		Select("*").
		Eq("profile_id", profileID).
		Order("posted_at", true)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []JobBoardEntry
	if err := q.Execute(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// BoardToJob converts a board posting into a new "saved" tracker card.
func BoardToJob(e JobBoardEntry, profileID string, now time.Time) JobEntry {
	return JobEntry{
		ID:             uuid.NewString(),
		ProfileID:      profileID,
		Company:        e.Company,
		JobTitle:       e.Title,
		JobDescription: e.Description,
		JobURL:         e.URL,
		Status:         StatusSaved,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ListResumes returns the uploaded resumes of a profile, default first.
func (b *Backend) ListResumes(ctx context.Context, profileID string) ([]UserResume, error) {
	var resumes []UserResume
	err := b.From(TableUserResumes).
		Select("*").
		Eq("profile_id", profileID).
		Order("is_default", true).
		Order("created_at", true).
		Execute(ctx, &resumes)
	if err != nil {
		return nil, err
	}
	return resumes, nil
}
