// Package client holds the resty client used for every backend call. The
// bearer token is installed and cleared here by the token lifecycle
// manager; requests made before sign-in fall back to the anon key.
package client

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/metrics"
	"github.com/aspirely/aspirely-cli/pkg/telemetry"
	"github.com/go-resty/resty/v2"
	json "github.com/json-iterator/go"
)

// UserAgent is sent on every request.
var UserAgent = "Aspirely-CLI/dev"

// Options configures a Client.
type Options struct {
	BaseURL   string
	AnonKey   string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Client wraps a resty client with a swappable bearer token.
type Client struct {
	http    *resty.Client
	anonKey string

	mu    sync.RWMutex
	token string
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	rc := resty.New()
	rc.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	rc.SetTimeout(opts.Timeout)
	rc.SetHeader("User-Agent", UserAgent)
	rc.SetJSONMarshaler(json.Marshal)
	rc.SetJSONUnmarshaler(json.Unmarshal)
	if opts.Transport != nil {
		rc.SetTransport(opts.Transport)
	}
	if opts.AnonKey != "" {
		rc.SetHeader("apikey", opts.AnonKey)
	}

	rc.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		logger.Debug("HTTP Request", "method", req.Method, "url", req.URL)
		return nil
	})

	rc.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		resource := Resource(resp.Request.URL)
		status := strconv.Itoa(resp.StatusCode())
		m := metrics.Get()
		m.BackendRequestsTotal.WithLabelValues(resp.Request.Method, resource, status).Inc()
		m.BackendRequestDuration.WithLabelValues(resp.Request.Method, resource, status).Observe(resp.Time().Seconds())
		logger.Debug("HTTP Response", "status", resp.StatusCode(), "resource", resource, "duration", resp.Time())
		return nil
	})

	return &Client{http: rc, anonKey: opts.AnonKey}
}

// NewFromConfig builds a Client from api.* settings with a traced transport.
func NewFromConfig() *Client {
	return New(Options{
		BaseURL:   config.GetString("api.base_url"),
		AnonKey:   config.GetString("api.anon_key"),
		Timeout:   config.GetSeconds("api.timeout"),
		Transport: telemetry.NewTransport(nil),
	})
}

// R starts a request bound to ctx carrying the current bearer.
func (c *Client) R(ctx context.Context) *resty.Request {
	req := c.http.R().SetContext(ctx)
	if tok := c.AuthToken(); tok != "" {
		req.SetAuthToken(tok)
	} else if c.anonKey != "" {
		req.SetAuthToken(c.anonKey)
	}
	return req
}

// SetAuthToken installs the bearer used by subsequent requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// ClearAuthToken removes the bearer.
func (c *Client) ClearAuthToken() {
	c.SetAuthToken("")
}

// AuthToken returns the installed bearer, or "".
func (c *Client) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// HasAuthToken reports whether a bearer is installed.
func (c *Client) HasAuthToken() bool {
	return c.AuthToken() != ""
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.http.BaseURL
}

// AnonKey returns the public anon key.
func (c *Client) AnonKey() string {
	return c.anonKey
}

// Resource extracts a low-cardinality label from a request URL, e.g.
// "rest/job_tracker" or "functions/user-management".
func Resource(rawURL string) string {
	path := rawURL
	if i := strings.Index(path, "://"); i >= 0 {
		path = path[i+3:]
		if j := strings.Index(path, "/"); j >= 0 {
			path = path[j:]
		} else {
			path = "/"
		}
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 3 && parts[1] == "v1" {
		return parts[0] + "/" + parts[2]
	}
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "root"
}
