// Package identity talks to the identity provider's frontend API: it
// mints short-lived session tokens for a signed-in session and reads the
// signed-in user.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/telemetry"
	"github.com/go-resty/resty/v2"
	json "github.com/json-iterator/go"
)

// ErrNoSession is returned when no session has been set.
var ErrNoSession = errors.New("identity: no session")

// tokenLeeway is how long before exp a cached token stops being served.
const tokenLeeway = 10 * time.Second

// TokenOptions selects the token to mint.
type TokenOptions struct {
	// Template names a JWT template; empty mints the default session token.
	Template string
	// SkipCache forces a new token even if a cached one is still valid.
	SkipCache bool
}

// EmailAddress is one of a user's addresses.
type EmailAddress struct {
	ID           string `json:"id"`
	EmailAddress string `json:"email_address"`
}

// User is the signed-in identity user.
type User struct {
	ID                    string         `json:"id"`
	FirstName             string         `json:"first_name"`
	LastName              string         `json:"last_name"`
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	EmailAddresses        []EmailAddress `json:"email_addresses"`
	ImageURL              string         `json:"image_url,omitempty"`
}

// PrimaryEmail returns the primary address, or the first one.
func (u *User) PrimaryEmail() string {
	for _, e := range u.EmailAddresses {
		if e.ID == u.PrimaryEmailAddressID {
			return e.EmailAddress
		}
	}
	if len(u.EmailAddresses) > 0 {
		return u.EmailAddresses[0].EmailAddress
	}
	return ""
}

type cachedToken struct {
	jwt string
	exp time.Time
}

// Options configures a Client.
type Options struct {
	// BaseURL is the frontend API root, e.g. https://clerk.aspirely.ai.
	BaseURL     string
	SessionID   string
	ClientToken string
	Timeout     time.Duration
	Transport   http.RoundTripper
	Now         func() time.Time
}

// Client mints session tokens for one session.
type Client struct {
	http *resty.Client
	now  func() time.Time

	mu          sync.Mutex
	sessionID   string
	clientToken string
	tokens      map[string]cachedToken
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	rc := resty.New()
	rc.SetBaseURL(strings.TrimRight(opts.BaseURL, "/"))
	rc.SetTimeout(opts.Timeout)
	rc.SetQueryParam("_is_native", "1")
	rc.SetJSONMarshaler(json.Marshal)
	rc.SetJSONUnmarshaler(json.Unmarshal)
	if opts.Transport != nil {
		rc.SetTransport(opts.Transport)
	}

	return &Client{
		http:        rc,
		now:         opts.Now,
		sessionID:   opts.SessionID,
		clientToken: opts.ClientToken,
		tokens:      make(map[string]cachedToken),
	}
}

// NewFromConfig derives the frontend API host from the configured
// publishable key.
func NewFromConfig(sessionID, clientToken string) (*Client, error) {
	host, err := config.FrontendAPIHost(config.PublishableKey())
	if err != nil {
		return nil, fmt.Errorf("identity host: %w", err)
	}
	return New(Options{
		BaseURL:     "https://" + host,
		SessionID:   sessionID,
		ClientToken: clientToken,
		Transport:   telemetry.NewTransport(nil),
	}), nil
}

// SetSession replaces the session and drops cached tokens.
func (c *Client) SetSession(sessionID, clientToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
	c.clientToken = clientToken
	c.tokens = make(map[string]cachedToken)
}

// HasSession reports whether a session is set.
func (c *Client) HasSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID != "" && c.clientToken != ""
}

// SessionID returns the current session id.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) session() (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" || c.clientToken == "" {
		return "", "", ErrNoSession
	}
	return c.sessionID, c.clientToken, nil
}

// Token returns a session JWT, served from cache until shortly before it
// expires unless opts.SkipCache is set.
func (c *Client) Token(ctx context.Context, opts TokenOptions) (string, error) {
	sid, clientToken, err := c.session()
	if err != nil {
		return "", err
	}

	if !opts.SkipCache {
		c.mu.Lock()
		cached, ok := c.tokens[opts.Template]
		c.mu.Unlock()
		if ok && c.now().Add(tokenLeeway).Before(cached.exp) {
			return cached.jwt, nil
		}
	}

	path := "/v1/client/sessions/" + sid + "/tokens"
	if opts.Template != "" {
		path += "/" + opts.Template
	}

	logger.Debug("Requesting session token", "template", opts.Template, "skip_cache", opts.SkipCache)

	var result struct {
		JWT string `json:"jwt"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", clientToken).
		SetResult(&result).
		Post(path)
	if err := checkResponse(resp, err); err != nil {
		return "", err
	}
	if result.JWT == "" {
		return "", fmt.Errorf("identity returned an empty token")
	}

	if exp, err := ExpiresAt(result.JWT); err == nil {
		c.mu.Lock()
		if c.sessionID == sid {
			c.tokens[opts.Template] = cachedToken{jwt: result.JWT, exp: exp}
		}
		c.mu.Unlock()
	} else {
		logger.Warn("Session token has no readable expiry", "error", err)
	}

	return result.JWT, nil
}

// User returns the signed-in user.
func (c *Client) User(ctx context.Context) (*User, error) {
	_, clientToken, err := c.session()
	if err != nil {
		return nil, err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", clientToken).
		Get("/v1/me")
	if err := checkResponse(resp, err); err != nil {
		return nil, err
	}

	// The frontend API wraps resources in {"response": ...}.
	var wrapped struct {
		Response *User `json:"response"`
	}
	if err := json.Unmarshal(resp.Body(), &wrapped); err == nil && wrapped.Response != nil && wrapped.Response.ID != "" {
		return wrapped.Response, nil
	}
	var user User
	if err := json.Unmarshal(resp.Body(), &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("identity returned no user")
	}
	return &user, nil
}

// EndSession signs the session out at the provider and forgets it locally.
func (c *Client) EndSession(ctx context.Context) error {
	sid, clientToken, err := c.session()
	if err != nil {
		return nil
	}
	defer c.SetSession("", "")

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", clientToken).
		Post("/v1/client/sessions/" + sid + "/end")
	return checkResponse(resp, err)
}
