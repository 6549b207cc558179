package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJobStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    JobStatus
		wantErr bool
	}{
		{"saved", StatusSaved, false},
		{"Interview", StatusInterview, false},
		{" OFFER ", StatusOffer, false},
		{"ghosted", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseJobStatus(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChecklist(t *testing.T) {
	var job JobEntry
	done, total := job.Progress()
	assert.Equal(t, 0, done)
	assert.Equal(t, len(ChecklistItems), total)

	require.NoError(t, job.SetChecked("resume_tailored", true))
	require.NoError(t, job.SetChecked("followed_up", true))
	assert.True(t, job.ResumeTailored)

	v, err := job.Checked("followed_up")
	require.NoError(t, err)
	assert.True(t, v)

	done, _ = job.Progress()
	assert.Equal(t, 2, done)

	assert.Error(t, job.SetChecked("bribed_recruiter", true))
	_, err = job.Checked("bribed_recruiter")
	assert.Error(t, err)
}

func TestDone(t *testing.T) {
	pending := InterviewPrep{Generation: Generation{Status: GenerationPending}}
	assert.False(t, Done(pending))

	failed := InterviewPrep{Generation: Generation{Status: GenerationFailed}}
	assert.True(t, Done(failed))

	// Some rows are filled in without a status change.
	filled := LinkedInPost{Generation: Generation{Status: GenerationProcessing}, Content: "Excited to share"}
	assert.True(t, Done(filled))
}

func TestBoardToJob(t *testing.T) {
	now := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	e := JobBoardEntry{ID: "b1", Title: "Backend Engineer", Company: "Initech", URL: "https://jobs.example/1"}

	job := BoardToJob(e, "p1", now)
	assert.NotEmpty(t, job.ID)
	assert.NotEqual(t, e.ID, job.ID)
	assert.Equal(t, "p1", job.ProfileID)
	assert.Equal(t, "Backend Engineer", job.JobTitle)
	assert.Equal(t, StatusSaved, job.Status)
	assert.Equal(t, now, job.CreatedAt)
}
