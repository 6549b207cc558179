// Package realtime subscribes to database change events over the
// backend's Phoenix-channel websocket.
package realtime

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	json "github.com/json-iterator/go"
)

// Phoenix channel events
const (
	EventJoin        = "phx_join"
	EventLeave       = "phx_leave"
	EventReply       = "phx_reply"
	EventError       = "phx_error"
	EventClose       = "phx_close"
	EventHeartbeat   = "heartbeat"
	EventAccessToken = "access_token"
	EventChanges     = "postgres_changes"
	EventSystem      = "system"

	phoenixTopic = "phoenix"
	protocolVsn  = "1.0.0"
)

// Message is one Phoenix frame.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
	JoinRef string          `json:"join_ref,omitempty"`
}

type reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// Config holds realtime client configuration
type Config struct {
	URL                  string
	APIKey               string
	ConnectTimeout       time.Duration
	HeartbeatInterval    time.Duration
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	BufferSize           int
}

// DefaultConfig returns the configuration for the backend at baseURL.
func DefaultConfig(baseURL, apiKey string) Config {
	return Config{
		URL:                  baseURL,
		APIKey:               apiKey,
		ConnectTimeout:       15 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		MaxReconnectAttempts: -1, // unlimited
		BufferSize:           64,
	}
}

// ConfigFromSettings builds a Config from the api.* settings.
func ConfigFromSettings() Config {
	return DefaultConfig(config.GetString("api.base_url"), config.GetString("api.anon_key"))
}

// ConnectionState represents the state of the websocket connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateError
)

// ConnectionStats holds connection statistics
type ConnectionStats struct {
	MessagesReceived int64
	MessagesSent     int64
	ReconnectCount   int
	LastError        string
	ConnectedAt      time.Time
	DisconnectedAt   time.Time
}

// Client is a Phoenix-channel connection shared by every subscription.
type Client struct {
	config Config
	dialer *websocket.Dialer

	connectMu sync.Mutex

	mu      sync.RWMutex
	conn    *websocket.Conn
	token   string
	subs    map[string]*Subscription
	pending map[string]chan reply
	writeMu sync.Mutex

	state          atomic.Value // ConnectionState
	ref            atomic.Uint64
	reconnectDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	statsLock sync.RWMutex
	stats     ConnectionStats
}

// NewClient creates a disconnected client.
func NewClient(cfg Config) *Client {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		config:         cfg,
		dialer:         &websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout},
		subs:           make(map[string]*Subscription),
		pending:        make(map[string]chan reply),
		reconnectDelay: cfg.ReconnectBaseDelay,
		ctx:            ctx,
		cancel:         cancel,
	}
	c.state.Store(StateDisconnected)
	return c
}

// SetAuthToken stores the bearer used to join channels and pushes it to
// every joined channel.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	c.token = token
	topics := make([]string, 0, len(c.subs))
	for topic := range c.subs {
		topics = append(topics, topic)
	}
	c.mu.Unlock()

	if !c.IsConnected() {
		return
	}
	for _, topic := range topics {
		if err := c.push(topic, EventAccessToken, map[string]string{"access_token": token}, ""); err != nil {
			logger.Debug("Failed to push access token", "topic", topic, "error", err)
		}
	}
}

// Endpoint returns the websocket URL.
func (c *Client) Endpoint() (string, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported realtime url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime/v1/websocket"
	q := u.Query()
	q.Set("apikey", c.config.APIKey)
	q.Set("vsn", protocolVsn)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect establishes the websocket connection
func (c *Client) Connect(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	if c.IsConnected() {
		return nil
	}
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateError)
		c.recordError(err.Error())
		return err
	}
	c.attach(conn)

	logger.Debug("Realtime connected", "url", c.config.URL)
	return nil
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.reconnectDelay = c.config.ReconnectBaseDelay
	c.mu.Unlock()

	c.setState(StateConnected)
	c.recordConnected()

	go c.readLoop(conn)
	go c.heartbeatLoop(conn)
}

// Disconnect closes the connection and every subscription. The client
// cannot be reconnected afterwards.
func (c *Client) Disconnect() error {
	c.cancel()

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	subs := c.subs
	c.subs = make(map[string]*Subscription)
	c.mu.Unlock()

	for _, s := range subs {
		s.closeEvents()
	}

	c.setState(StateDisconnected)
	c.recordDisconnected()

	logger.Debug("Realtime disconnected")
	return nil
}

// IsConnected returns true if the connection is established
func (c *Client) IsConnected() bool {
	return c.getState() == StateConnected
}

// Subscribe joins a channel for the rows matching f. The connection is
// opened on first use.
func (c *Client) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}

	s := &Subscription{
		client: c,
		topic:  "realtime:" + f.Table + "-" + uuid.NewString()[:8],
		filter: f,
		events: make(chan Change, c.config.BufferSize),
	}

	c.mu.Lock()
	c.subs[s.topic] = s
	c.mu.Unlock()

	if err := c.join(ctx, s); err != nil {
		c.mu.Lock()
		delete(c.subs, s.topic)
		c.mu.Unlock()
		s.closeEvents()
		return nil, err
	}

	logger.Debug("Realtime subscribed", "topic", s.topic, "table", f.Table, "filter", f.Filter)
	return s, nil
}

func (c *Client) joinPayload(f Filter) map[string]interface{} {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()

	payload := map[string]interface{}{
		"config": map[string]interface{}{
			"broadcast":        map[string]bool{"self": false},
			"presence":         map[string]string{"key": ""},
			"postgres_changes": []map[string]string{f.params()},
		},
	}
	if token != "" {
		payload["access_token"] = token
	}
	return payload
}

// join sends phx_join and waits for the reply.
func (c *Client) join(ctx context.Context, s *Subscription) error {
	ref := c.nextRef()
	wait := make(chan reply, 1)
	c.mu.Lock()
	c.pending[ref] = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, ref)
		c.mu.Unlock()
	}()

	if err := c.push(s.topic, EventJoin, c.joinPayload(s.filter), ref); err != nil {
		return err
	}

	timer := time.NewTimer(c.config.ConnectTimeout)
	defer timer.Stop()
	select {
	case r := <-wait:
		if r.Status != "ok" {
			return fmt.Errorf("join %s: %s %s", s.filter.Table, r.Status, string(r.Response))
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("join %s: timed out", s.filter.Table)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetStats returns connection statistics
func (c *Client) GetStats() ConnectionStats {
	c.statsLock.RLock()
	defer c.statsLock.RUnlock()
	return c.stats
}

func (c *Client) nextRef() string {
	return strconv.FormatUint(c.ref.Add(1), 10)
}

func (c *Client) push(topic, event string, payload interface{}, ref string) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if ref == "" {
		ref = c.nextRef()
	}
	data, err := json.Marshal(Message{Topic: topic, Event: event, Payload: raw, Ref: ref})
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	c.recordMessageSent()
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := c.Endpoint()
	if err != nil {
		return nil, err
	}
	if c.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.ConnectTimeout)
		defer cancel()
	}
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	return conn, err
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.handleDisconnect(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.recordError(err.Error())
				logger.Debug("Realtime read error", "error", err)
			}
			return
		}
		c.recordMessageReceived()

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("Realtime frame ignored", "error", err)
			continue
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg Message) {
	switch msg.Event {
	case EventReply:
		c.mu.RLock()
		wait := c.pending[msg.Ref]
		c.mu.RUnlock()
		if wait == nil {
			return
		}
		var r reply
		if err := json.Unmarshal(msg.Payload, &r); err != nil {
			r.Status = "error"
		}
		select {
		case wait <- r:
		default:
		}

	case EventChanges:
		c.mu.RLock()
		s := c.subs[msg.Topic]
		c.mu.RUnlock()
		if s == nil {
			return
		}
		var p changePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			logger.Debug("Realtime change ignored", "topic", msg.Topic, "error", err)
			return
		}
		s.deliver(p.Data)

	case EventError, EventClose:
		logger.Debug("Realtime channel closed by server", "topic", msg.Topic, "event", msg.Event)

	case EventSystem:
		logger.Debug("Realtime system message", "topic", msg.Topic, "payload", string(msg.Payload))
	}
}

func (c *Client) heartbeatLoop(conn *websocket.Conn) {
	if c.config.HeartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			current := c.conn
			c.mu.RUnlock()
			if current != conn {
				return
			}
			if err := c.push(phoenixTopic, EventHeartbeat, struct{}{}, ""); err != nil {
				logger.Debug("Failed to send heartbeat", "error", err)
			}
		}
	}
}

func (c *Client) handleDisconnect(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn.Close()
	c.conn = nil
	c.mu.Unlock()

	if c.ctx.Err() != nil {
		return
	}

	c.setState(StateReconnecting)
	c.recordDisconnected()

	attempts := 0
	for {
		if c.config.MaxReconnectAttempts >= 0 && attempts >= c.config.MaxReconnectAttempts {
			c.setState(StateError)
			logger.Warn("Realtime gave up reconnecting", "attempts", attempts)
			return
		}

		wait := c.backoff()
		if wait > 0 {
			wait += time.Duration(rand.Int63n(int64(wait)/2 + 1))
		}
		logger.Debug("Reconnecting realtime", "attempt", attempts+1, "wait_ms", wait.Milliseconds())

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(wait):
		}

		newConn, err := c.dial(c.ctx)
		if err != nil {
			attempts++
			c.recordError(err.Error())
			c.growBackoff()
			continue
		}

		c.statsLock.Lock()
		c.stats.ReconnectCount++
		c.statsLock.Unlock()

		c.attach(newConn)
		c.rejoin()
		logger.Debug("Realtime reconnected")
		return
	}
}

func (c *Client) backoff() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnectDelay
}

// growBackoff doubles the reconnect delay up to ReconnectMaxDelay.
func (c *Client) growBackoff() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectDelay *= 2
	if c.reconnectDelay > c.config.ReconnectMaxDelay {
		c.reconnectDelay = c.config.ReconnectMaxDelay
	}
}

// rejoin re-sends phx_join for every subscription after a reconnect.
func (c *Client) rejoin() {
	c.mu.RLock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.RUnlock()

	for _, s := range subs {
		if err := c.push(s.topic, EventJoin, c.joinPayload(s.filter), ""); err != nil {
			logger.Debug("Realtime rejoin failed", "topic", s.topic, "error", err)
		}
	}
}

func (c *Client) setState(state ConnectionState) {
	c.state.Store(state)
}

func (c *Client) getState() ConnectionState {
	return c.state.Load().(ConnectionState)
}

func (c *Client) recordMessageReceived() {
	c.statsLock.Lock()
	c.stats.MessagesReceived++
	c.statsLock.Unlock()
}

func (c *Client) recordMessageSent() {
	c.statsLock.Lock()
	c.stats.MessagesSent++
	c.statsLock.Unlock()
}

func (c *Client) recordError(errMsg string) {
	c.statsLock.Lock()
	c.stats.LastError = errMsg
	c.statsLock.Unlock()
}

func (c *Client) recordConnected() {
	c.statsLock.Lock()
	c.stats.ConnectedAt = time.Now()
	c.statsLock.Unlock()
}

func (c *Client) recordDisconnected() {
	c.statsLock.Lock()
	c.stats.DisconnectedAt = time.Now()
	c.statsLock.Unlock()
}
