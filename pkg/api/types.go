package api

import (
	"fmt"
	"strings"
	"time"
)

// User is a row of the users table, keyed by the identity provider's user id.
type User struct {
	ID        string    `json:"id"`
	ClerkID   string    `json:"clerk_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	LastName  string    `json:"last_name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserProfile is the per-user profile row. Other tables reference it
// through profile_id.
type UserProfile struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	FullName    string    `json:"full_name,omitempty"`
	Headline    string    `json:"headline,omitempty"`
	Location    string    `json:"location,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	LinkedInURL string    `json:"linkedin_url,omitempty"`
	Skills      []string  `json:"skills,omitempty"`
	Credits     int       `json:"credits"`
	Plan        string    `json:"plan,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// JobStatus is a job tracker column.
type JobStatus string

const (
	StatusSaved     JobStatus = "saved"
	StatusApplied   JobStatus = "applied"
	StatusInterview JobStatus = "interview"
	StatusRejected  JobStatus = "rejected"
	StatusOffer     JobStatus = "offer"
)

// JobStatuses lists the tracker columns in board order.
var JobStatuses = []JobStatus{StatusSaved, StatusApplied, StatusInterview, StatusRejected, StatusOffer}

// ParseJobStatus accepts a status name case-insensitively.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range JobStatuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown job status %q (want one of saved, applied, interview, rejected, offer)", s)
}

// JobEntry is a job tracker card.
type JobEntry struct {
	ID             string    `json:"id"`
	ProfileID      string    `json:"profile_id"`
	Company        string    `json:"company"`
	JobTitle       string    `json:"job_title"`
	JobDescription string    `json:"job_description,omitempty"`
	JobURL         string    `json:"job_url,omitempty"`
	Status         JobStatus `json:"status"`
	Position       int       `json:"position"`
	Comments       string    `json:"comments,omitempty"`
	ResumeURL      string    `json:"resume_url,omitempty"`
	CoverLetterURL string    `json:"cover_letter_url,omitempty"`

	ResumeTailored     bool `json:"resume_tailored"`
	CoverLetterWritten bool `json:"cover_letter_written"`
	Applied            bool `json:"application_submitted"`
	FollowedUp         bool `json:"followed_up"`
	InterviewPrepared  bool `json:"interview_prepared"`
	ThankYouSent       bool `json:"thank_you_sent"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetID returns the card id.
func (j JobEntry) GetID() string { return j.ID }

// ChecklistItems names the fixed checklist flags in display order.
var ChecklistItems = []string{
	"resume_tailored",
	"cover_letter_written",
	"application_submitted",
	"followed_up",
	"interview_prepared",
	"thank_you_sent",
}

func (j *JobEntry) flag(name string) *bool {
	switch name {
	case "resume_tailored":
		return &j.ResumeTailored
	case "cover_letter_written":
		return &j.CoverLetterWritten
	case "application_submitted":
		return &j.Applied
	case "followed_up":
		return &j.FollowedUp
	case "interview_prepared":
		return &j.InterviewPrepared
	case "thank_you_sent":
		return &j.ThankYouSent
	}
	return nil
}

// Checked reports the value of a checklist flag.
func (j JobEntry) Checked(name string) (bool, error) {
	f := j.flag(name)
	if f == nil {
		return false, fmt.Errorf("unknown checklist item %q", name)
	}
	return *f, nil
}

// SetChecked sets a checklist flag.
func (j *JobEntry) SetChecked(name string, done bool) error {
	f := j.flag(name)
	if f == nil {
		return fmt.Errorf("unknown checklist item %q", name)
	}
	*f = done
	return nil
}

// Progress returns how many checklist items are done.
func (j JobEntry) Progress() (done, total int) {
	for _, name := range ChecklistItems {
		if v, _ := j.Checked(name); v {
			done++
		}
	}
	return done, len(ChecklistItems)
}

// GenerationStatus tracks an asynchronous AI generation row.
type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

// Generation holds the columns shared by every AI content table.
type Generation struct {
	ID             string           `json:"id"`
	ProfileID      string           `json:"profile_id"`
	CompanyName    string           `json:"company_name"`
	JobTitle       string           `json:"job_title"`
	JobDescription string           `json:"job_description,omitempty"`
	Status         GenerationStatus `json:"status"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Meta returns the shared columns.
func (g Generation) Meta() Generation { return g }

// GetID returns the row id.
func (g Generation) GetID() string { return g.ID }

// Content is implemented by every AI content row.
type Content interface {
	Meta() Generation
	GetID() string
	Body() string
	Table() string
}

// Done reports whether generation of c has finished, successfully or not.
func Done(c Content) bool {
	switch c.Meta().Status {
	case GenerationCompleted, GenerationFailed:
		return true
	}
	return strings.TrimSpace(c.Body()) != ""
}

// CoverLetter is a row of job_cover_letters.
type CoverLetter struct {
	Generation
	Tone    string `json:"tone,omitempty"`
	Content string `json:"cover_letter,omitempty"`
}

func (c CoverLetter) Body() string { return c.Content }
func (CoverLetter) Table() string { return TableCoverLetters }

// InterviewPrep is a row of interview_prep.
type InterviewPrep struct {
	Generation
	InterviewType string `json:"interview_type,omitempty"`
	Content       string `json:"prep_content,omitempty"`
}

func (p InterviewPrep) Body() string { return p.Content }
func (InterviewPrep) Table() string { return TableInterviewPrep }

// CompanyAnalysis is a row of company_role_analyses.
type CompanyAnalysis struct {
	Generation
	CompanyURL string `json:"company_url,omitempty"`
	Content    string `json:"analysis,omitempty"`
}

func (a CompanyAnalysis) Body() string { return a.Content }
func (CompanyAnalysis) Table() string { return TableCompanyAnalyses }

// LinkedInPost is a row of job_linkedin.
type LinkedInPost struct {
	Generation
	Topic   string `json:"topic,omitempty"`
	Content string `json:"post_content,omitempty"`
}

func (l LinkedInPost) Body() string { return l.Content }
func (LinkedInPost) Table() string { return TableLinkedInPosts }

// JobBoardEntry is a job delivered by the alert pipeline.
type JobBoardEntry struct {
	ID          string    `json:"id"`
	ProfileID   string    `json:"profile_id"`
	Title       string    `json:"title"`
	Company     string    `json:"company"`
	Location    string    `json:"location,omitempty"`
	URL         string    `json:"url,omitempty"`
	Salary      string    `json:"salary,omitempty"`
	Source      string    `json:"source,omitempty"`
	Description string    `json:"description,omitempty"`
	PostedAt    time.Time `json:"posted_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// GetID returns the row id.
func (e JobBoardEntry) GetID() string { return e.ID }

// UserResume is an uploaded resume.
type UserResume struct {
	ID        string    `json:"id"`
	ProfileID string    `json:"profile_id"`
	FileName  string    `json:"file_name"`
	FileURL   string    `json:"file_url"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

// GetID returns the row id.
func (r UserResume) GetID() string { return r.ID }

// ProvisionRequest is the body sent to the user-management function.
type ProvisionRequest struct {
	Action    string `json:"action"`
	ClerkID   string `json:"clerk_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// ProvisionResponse is returned by the user-management function.
type ProvisionResponse struct {
	User    User        `json:"user"`
	Profile UserProfile `json:"profile"`
}
