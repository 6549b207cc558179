package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/api"
	"github.com/aspirely/aspirely-cli/pkg/auth"
	"github.com/aspirely/aspirely-cli/pkg/cache"
	"github.com/aspirely/aspirely-cli/pkg/client"
	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/container"
	"github.com/aspirely/aspirely-cli/pkg/credentials"
	"github.com/aspirely/aspirely-cli/pkg/identity"
	"github.com/aspirely/aspirely-cli/pkg/output"
	"github.com/fatih/color"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/require"
)

const testClerkID = "user_2abc"

type row = map[string]any

// fakeRest is an in-memory PostgREST: eq filters, single-object
// responses, representation on writes and the user-management function.
type fakeRest struct {
	mu       sync.Mutex
	tables   map[string][]row
	fail     map[string]int // "METHOD table" -> status
	rejected map[string]bool
	calls    []string

	provisioned int
	onInsert    func(table string, r row)
}

func newFakeRest() *fakeRest {
	return &fakeRest{
		tables:   map[string][]row{},
		fail:     map[string]int{},
		rejected: map[string]bool{},
	}
}

func (f *fakeRest) seed(table string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var r row
	if err := json.Unmarshal(data, &r); err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.tables[table] = append(f.tables[table], r)
	f.mu.Unlock()
}

func (f *fakeRest) rows(table string) []row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]row(nil), f.tables[table]...)
}

func (f *fakeRest) failWith(method, table string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status == 0 {
		delete(f.fail, method+" "+table)
		return
	}
	f.fail[method+" "+table] = status
}

func (f *fakeRest) reject(token string) {
	f.mu.Lock()
	f.rejected[token] = true
	f.mu.Unlock()
}

func (f *fakeRest) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeRest) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRest) provisions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.provisioned
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func matches(r row, filters url.Values) bool {
	for col, vals := range filters {
		switch col {
		case "select", "order", "limit":
			continue
		}
		for _, v := range vals {
			want, ok := strings.CutPrefix(v, "eq.")
			if !ok || fmt.Sprint(r[col]) != want {
				return false
			}
		}
	}
	return true
}

func (f *fakeRest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.rejected[token] {
		writeJSON(w, http.StatusUnauthorized, row{"code": api.CodeJWTExpired, "message": "JWT expired"})
		return
	}

	if r.URL.Path == "/functions/v1/"+api.FunctionUserManagement {
		f.calls = append(f.calls, "FN user-management")
		f.provision(w, body)
		return
	}

	table, ok := strings.CutPrefix(r.URL.Path, "/rest/v1/")
	if !ok {
		http.NotFound(w, r)
		return
	}
	f.calls = append(f.calls, r.Method+" "+table)
	if status := f.fail[r.Method+" "+table]; status != 0 {
		writeJSON(w, status, row{"code": "XX000", "message": "injected failure"})
		return
	}

	single := r.Header.Get("Accept") == "application/vnd.pgrst.object+json"
	filters := r.URL.Query()

	var out []row
	switch r.Method {
	case http.MethodGet:
		for _, rr := range f.tables[table] {
			if matches(rr, filters) {
				out = append(out, rr)
			}
		}
	case http.MethodPost:
		var rr row
		if err := json.Unmarshal(body, &rr); err != nil {
			writeJSON(w, http.StatusBadRequest, row{"code": "PGRST102", "message": err.Error()})
			return
		}
		f.tables[table] = append(f.tables[table], rr)
		if f.onInsert != nil {
			f.onInsert(table, rr)
		}
		out = []row{rr}
	case http.MethodPatch:
		var patch row
		_ = json.Unmarshal(body, &patch)
		for _, rr := range f.tables[table] {
			if matches(rr, filters) {
				for k, v := range patch {
					rr[k] = v
				}
				out = append(out, rr)
			}
		}
	case http.MethodDelete:
		kept := f.tables[table][:0]
		for _, rr := range f.tables[table] {
			if !matches(rr, filters) {
				kept = append(kept, rr)
			}
		}
		f.tables[table] = kept
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !single {
		if out == nil {
			out = []row{}
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	if len(out) != 1 {
		writeJSON(w, http.StatusNotAcceptable, row{"code": api.CodeNoRows, "message": "JSON object requested, multiple (or no) rows returned"})
		return
	}
	writeJSON(w, http.StatusOK, out[0])
}

func (f *fakeRest) provision(w http.ResponseWriter, body []byte) {
	var req api.ProvisionRequest
	_ = json.Unmarshal(body, &req)
	f.provisioned++

	user := row{"id": uuid.NewString(), "clerk_id": req.ClerkID, "email": req.Email, "first_name": req.FirstName}
	profile := row{"id": uuid.NewString(), "user_id": user["id"], "full_name": req.FirstName, "credits": float64(5)}
	f.tables[api.TableUsers] = append(f.tables[api.TableUsers], user)
	f.tables[api.TableUserProfile] = append(f.tables[api.TableUserProfile], profile)
	writeJSON(w, http.StatusOK, row{"user": user, "profile": profile})
}

// tokenSource mints numbered JWTs for testClerkID.
type tokenSource struct {
	mu sync.Mutex
	n  int
}

func (s *tokenSource) Token(context.Context, identity.TokenOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return mintJWT(s.n), nil
}

func (s *tokenSource) HasSession() bool { return true }

func (s *tokenSource) minted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// flakySource fails with a dial error until up is set.
type flakySource struct {
	up atomic.Bool
	tokenSource
}

func (s *flakySource) Token(ctx context.Context, opts identity.TokenOptions) (string, error) {
	if !s.up.Load() {
		return "", errors.New("dial tcp 127.0.0.1:443: connect: connection refused")
	}
	return s.tokenSource.Token(ctx, opts)
}

// withUnreachableIdentity replaces the session with one that was never
// started because the identity provider could not be reached.
func (e *testEnv) withUnreachableIdentity(t *testing.T) *flakySource {
	t.Helper()
	src := &flakySource{}
	sess := auth.NewSession(auth.Options{
		Source:         src,
		Sink:           e.c.Client(),
		SettleDelay:    time.Millisecond,
		RefreshBackoff: time.Millisecond,
	})
	t.Cleanup(sess.Close)
	require.Error(t, sess.Start(context.Background()))
	e.c.SetSession(sess)
	return src
}

func mintJWT(n int) string {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": testClerkID,
		"n":   n,
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("test"))
	if err != nil {
		panic(err)
	}
	return tok
}

type testEnv struct {
	c    *container.Container
	rest *fakeRest
	src  *tokenSource
	out  *strings.Builder
}

// newEnv wires a signed-in container against a fake backend and a
// fake identity API.
func newEnv(t *testing.T) *testEnv {
	t.Helper()
	require.NoError(t, config.Init(filepath.Join(t.TempDir(), "config.toml")))

	noColor := color.NoColor
	color.NoColor = true
	out := &strings.Builder{}
	prevOut := output.Out
	output.Out = out
	t.Cleanup(func() {
		output.Out = prevOut
		color.NoColor = noColor
	})

	rest := newFakeRest()
	restSrv := httptest.NewServer(rest)
	t.Cleanup(restSrv.Close)

	idSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/v1/me":
			writeJSON(w, http.StatusOK, row{"response": row{
				"id":                       testClerkID,
				"first_name":               "Ada",
				"last_name":                "Lovelace",
				"primary_email_address_id": "e1",
				"email_addresses":          []row{{"id": "e1", "email_address": "ada@example.com"}},
			}})
		case strings.HasSuffix(r.URL.Path, "/end"):
			writeJSON(w, http.StatusOK, row{})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(idSrv.Close)

	cl := client.New(client.Options{BaseURL: restSrv.URL, AnonKey: "anon"})
	idc := identity.New(identity.Options{BaseURL: idSrv.URL, SessionID: "sess_1", ClientToken: "ct_1"})
	src := &tokenSource{}
	sess := auth.NewSession(auth.Options{
		Source:         src,
		Sink:           cl,
		SettleDelay:    time.Millisecond,
		RefreshBackoff: time.Millisecond,
	})
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(sess.Close)

	c := container.New().
		SetClient(cl).
		SetBackend(api.NewBackend(cl)).
		SetIdentity(idc).
		SetSession(sess).
		SetStore(cache.NewMemoryStore()).
		SetCredentials(&credentials.Credentials{
			SessionID:   "sess_1",
			ClientToken: "ct_1",
			UserID:      testClerkID,
			Email:       "ada@example.com",
			FirstName:   "Ada",
		})

	return &testEnv{c: c, rest: rest, src: src, out: out}
}

// withProfile seeds an existing backend user and returns the profile id.
func (e *testEnv) withProfile(credits int) string {
	userID, profileID := uuid.NewString(), uuid.NewString()
	e.rest.seed(api.TableUsers, api.User{ID: userID, ClerkID: testClerkID, Email: "ada@example.com"})
	e.rest.seed(api.TableUserProfile, api.UserProfile{ID: profileID, UserID: userID, FullName: "Ada Lovelace", Credits: credits})
	return profileID
}
