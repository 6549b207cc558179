// Package formatter turns domain rows into table rows and record fields
// for the output package.
package formatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/api"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/fatih/color"
)

var (
	Bold    = color.New(color.Bold)
	Success = color.New(color.FgGreen)
	Error   = color.New(color.FgRed)
	Info    = color.New(color.FgCyan)
	Warning = color.New(color.FgYellow)
	Faint   = color.New(color.Faint)
)

const dateLayout = "2006-01-02"

// Headers for each list view.
var (
	JobHeaders        = []string{"ID", "COMPANY", "TITLE", "STATUS", "CHECKLIST", "UPDATED"}
	ContentHeaders    = []string{"ID", "COMPANY", "TITLE", "STATUS", "CREATED"}
	BoardHeaders      = []string{"ID", "COMPANY", "TITLE", "LOCATION", "SALARY", "POSTED"}
	ResumeHeaders     = []string{"ID", "FILE", "DEFAULT", "UPLOADED"}
	CacheEntryHeaders = []string{"ENTITY", "USER", "AGE", "TTL", "STATE"}
)

// ShortID returns the first block of a UUID.
func ShortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// Truncate shortens s to n runes with an ellipsis.
func Truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if n <= 0 || len(r) <= n {
		return string(r)
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// Date formats t as a calendar date, or "-" when unset.
func Date(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(dateLayout)
}

// Checklist renders a done/total counter.
func Checklist(done, total int) string {
	return fmt.Sprintf("%d/%d", done, total)
}

// JobStatus colours a tracker column name.
func JobStatus(s api.JobStatus) string {
	switch s {
	case api.StatusOffer:
		return Success.Sprint(s)
	case api.StatusRejected:
		return Error.Sprint(s)
	case api.StatusInterview:
		return Info.Sprint(s)
	default:
		return string(s)
	}
}

// GenerationStatus colours an AI generation state.
func GenerationStatus(s api.GenerationStatus) string {
	switch s {
	case api.GenerationCompleted:
		return Success.Sprint(s)
	case api.GenerationFailed:
		return Error.Sprint(s)
	case api.GenerationPending, api.GenerationProcessing:
		return Warning.Sprint(s)
	default:
		return string(s)
	}
}

// JobRows builds table rows for tracker cards. Ids in pending are marked
// as not yet saved.
func JobRows(jobs []api.JobEntry, pending map[string]bool) [][]string {
	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		id := ShortID(j.ID)
		if pending[j.ID] {
			id += Faint.Sprint("*")
		}
		done, total := j.Progress()
		rows = append(rows, []string{
			id,
			Truncate(j.Company, 24),
			Truncate(j.JobTitle, 32),
			JobStatus(j.Status),
			Checklist(done, total),
			Date(j.UpdatedAt),
		})
	}
	return rows
}

// JobFields describes one tracker card.
func JobFields(j api.JobEntry) []output.Field {
	done, total := j.Progress()
	fields := []output.Field{
		{Key: "ID", Value: j.ID},
		{Key: "Company", Value: j.Company},
		{Key: "Title", Value: j.JobTitle},
		{Key: "Status", Value: JobStatus(j.Status)},
		{Key: "Position", Value: j.Position},
		{Key: "Checklist", Value: Checklist(done, total)},
	}
	for _, name := range api.ChecklistItems {
		v, _ := j.Checked(name)
		mark := "[ ]"
		if v {
			mark = "[x]"
		}
		fields = append(fields, output.Field{Key: "  " + name, Value: mark})
	}
	if j.JobURL != "" {
		fields = append(fields, output.Field{Key: "URL", Value: j.JobURL})
	}
	if j.Comments != "" {
		fields = append(fields, output.Field{Key: "Comments", Value: j.Comments})
	}
	return append(fields,
		output.Field{Key: "Created", Value: Date(j.CreatedAt)},
		output.Field{Key: "Updated", Value: Date(j.UpdatedAt)},
	)
}

// ContentRows builds table rows for generated content of any kind.
func ContentRows[T api.Content](rows []T) [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		m := r.Meta()
		out = append(out, []string{
			ShortID(m.ID),
			Truncate(m.CompanyName, 24),
			Truncate(m.JobTitle, 32),
			GenerationStatus(m.Status),
			Date(m.CreatedAt),
		})
	}
	return out
}

// ContentFields describes the metadata of one generated row.
func ContentFields(c api.Content) []output.Field {
	m := c.Meta()
	fields := []output.Field{
		{Key: "ID", Value: m.ID},
		{Key: "Company", Value: m.CompanyName},
		{Key: "Title", Value: m.JobTitle},
		{Key: "Status", Value: GenerationStatus(m.Status)},
		{Key: "Created", Value: Date(m.CreatedAt)},
	}
	if m.ErrorMessage != "" {
		fields = append(fields, output.Field{Key: "Error", Value: m.ErrorMessage})
	}
	return fields
}

// BoardRows builds table rows for job board postings.
func BoardRows(entries []api.JobBoardEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			ShortID(e.ID),
			Truncate(e.Company, 24),
			Truncate(e.Title, 32),
			Truncate(orDash(e.Location), 20),
			orDash(e.Salary),
			Date(e.PostedAt),
		})
	}
	return rows
}

// ResumeRows builds table rows for uploaded resumes.
func ResumeRows(resumes []api.UserResume) [][]string {
	rows := make([][]string, 0, len(resumes))
	for _, r := range resumes {
		def := ""
		if r.IsDefault {
			def = Success.Sprint("yes")
		}
		rows = append(rows, []string{ShortID(r.ID), r.FileName, def, Date(r.CreatedAt)})
	}
	return rows
}

// ProfileFields describes the signed-in user's profile.
func ProfileFields(u api.User, p api.UserProfile) []output.Field {
	name := p.FullName
	if name == "" {
		name = strings.TrimSpace(u.FirstName + " " + u.LastName)
	}
	fields := []output.Field{
		{Key: "Name", Value: orDash(name)},
		{Key: "Email", Value: orDash(u.Email)},
		{Key: "Headline", Value: orDash(p.Headline)},
		{Key: "Location", Value: orDash(p.Location)},
		{Key: "Plan", Value: orDash(p.Plan)},
		{Key: "Credits", Value: p.Credits},
	}
	if len(p.Skills) > 0 {
		fields = append(fields, output.Field{Key: "Skills", Value: strings.Join(p.Skills, ", ")})
	}
	return append(fields, output.Field{Key: "Member since", Value: Date(u.CreatedAt)})
}

// Duration renders d rounded to a readable unit.
func Duration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Minute:
		return d.Round(time.Second).String()
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
