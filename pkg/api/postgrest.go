package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/aspirely/aspirely-cli/pkg/client"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/go-resty/resty/v2"
	json "github.com/json-iterator/go"
)

// Tables used by the client.
const (
	TableUsers           = "users"
	TableUserProfile     = "user_profile"
	TableJobTracker      = "job_tracker"
	TableJobBoard        = "job_board"
	TableCoverLetters    = "job_cover_letters"
	TableInterviewPrep   = "interview_prep"
	TableCompanyAnalyses = "company_role_analyses"
	TableLinkedInPosts   = "job_linkedin"
	TableUserResumes     = "user_resumes"
)

const (
	restPrefix      = "/rest/v1/"
	functionsPrefix = "/functions/v1/"

	mediaObject = "application/vnd.pgrst.object+json"
)

// Backend issues table and function calls against the backend-as-a-service.
type Backend struct {
	c *client.Client
}

// NewBackend wraps c.
func NewBackend(c *client.Client) *Backend {
	return &Backend{c: c}
}

// Client returns the underlying HTTP client.
func (b *Backend) Client() *client.Client {
	return b.c
}

// From starts a query against table.
func (b *Backend) From(table string) *Query {
	return &Query{b: b, table: table, params: url.Values{}}
}

// Query is a PostgREST request under construction. Filters are applied to
// reads, updates and deletes alike.
type Query struct {
	b      *Backend
	table  string
	params url.Values
	orders []string
	single bool
}

// Select sets the column list (PostgREST "select").
func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

// Eq adds column=eq.value.
func (q *Query) Eq(column string, value any) *Query {
	q.params.Add(column, "eq."+fmt.Sprint(value))
	return q
}

// Neq adds column=neq.value.
func (q *Query) Neq(column string, value any) *Query {
	q.params.Add(column, "neq."+fmt.Sprint(value))
	return q
}

// In adds column=in.(a,b,...).
func (q *Query) In(column string, values ...string) *Query {
	quoted := make([]string, len(values))
	for i, v := range values {
		if strings.ContainsAny(v, ",()\"") {
			v = `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
		}
		quoted[i] = v
	}
	q.params.Add(column, "in.("+strings.Join(quoted, ",")+")")
	return q
}

// Order appends an ordering term.
func (q *Query) Order(column string, descending bool) *Query {
	dir := "asc"
	if descending {
		dir = "desc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

// Limit caps the number of rows.
func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

// Single asks for exactly one row as an object. No row yields ErrNotFound.
func (q *Query) Single() *Query {
	q.single = true
	return q
}

// Values returns the encoded query parameters.
func (q *Query) Values() url.Values {
	v := url.Values{}
	for k, vals := range q.params {
		v[k] = append([]string(nil), vals...)
	}
	if len(q.orders) > 0 {
		v.Set("order", strings.Join(q.orders, ","))
	}
	return v
}

func (q *Query) request(ctx context.Context) *resty.Request {
	req := q.b.c.R(ctx).SetQueryParamsFromValues(q.Values())
	if q.single {
		req.SetHeader("Accept", mediaObject)
	}
	return req
}

func (q *Query) path() string {
	return restPrefix + q.table
}

// Execute runs a read and decodes the result into out.
func (q *Query) Execute(ctx context.Context, out any) error {
	logger.Debug("Querying table", "table", q.table, "single", q.single)
	resp, err := q.request(ctx).Get(q.path())
	if err := CheckResponse(resp, err); err != nil {
		return err
	}
	return decode(resp, out)
}

// Insert creates rows and decodes the representation into out, which may
// be nil.
func (q *Query) Insert(ctx context.Context, row any, out any) error {
	logger.Debug("Inserting row", "table", q.table)
	resp, err := q.request(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(row).
		Post(q.path())
	if err := CheckResponse(resp, err); err != nil {
		return err
	}
	return decode(resp, out)
}

// Update patches the filtered rows and decodes the representation into out.
func (q *Query) Update(ctx context.Context, patch any, out any) error {
	if len(q.params) == 0 {
		return fmt.Errorf("refusing unfiltered update of %s", q.table)
	}
	logger.Debug("Updating rows", "table", q.table)
	resp, err := q.request(ctx).
		SetHeader("Prefer", "return=representation").
		SetBody(patch).
		Patch(q.path())
	if err := CheckResponse(resp, err); err != nil {
		return err
	}
	return decode(resp, out)
}

// Delete removes the filtered rows.
func (q *Query) Delete(ctx context.Context) error {
	if len(q.params) == 0 {
		return fmt.Errorf("refusing unfiltered delete of %s", q.table)
	}
	logger.Debug("Deleting rows", "table", q.table)
	resp, err := q.request(ctx).Delete(q.path())
	return CheckResponse(resp, err)
}

// InvokeFunction calls a serverless function with a JSON body.
func (b *Backend) InvokeFunction(ctx context.Context, name string, body any, out any) error {
	logger.Debug("Invoking function", "name", name)
	resp, err := b.c.R(ctx).SetBody(body).Post(functionsPrefix + name)
	if err := CheckResponse(resp, err); err != nil {
		return err
	}
	return decode(resp, out)
}

func decode(resp *resty.Response, out any) error {
	if out == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", client.Resource(resp.Request.URL), err)
	}
	return nil
}
