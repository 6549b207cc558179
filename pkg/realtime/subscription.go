package realtime

import (
	"sync"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/logger"
	json "github.com/json-iterator/go"
)

// ChangeType is a database change kind.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	ChangeAll    ChangeType = "*"
)

// Filter selects the changes a subscription receives. Filter uses the
// PostgREST column filter syntax, e.g. "id=eq.42".
type Filter struct {
	Schema string
	Table  string
	Filter string
	Event  ChangeType
}

func (f Filter) params() map[string]string {
	p := map[string]string{
		"event":  string(f.Event),
		"schema": f.Schema,
		"table":  f.Table,
	}
	if p["event"] == "" {
		p["event"] = string(ChangeAll)
	}
	if p["schema"] == "" {
		p["schema"] = "public"
	}
	if f.Filter != "" {
		p["filter"] = f.Filter
	}
	return p
}

// Change is one row change.
type Change struct {
	Schema          string          `json:"schema"`
	Table           string          `json:"table"`
	Type            ChangeType      `json:"eventType"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
	New             json.RawMessage `json:"new"`
	Old             json.RawMessage `json:"old"`
}

// Decode unmarshals the new row into v.
func (ch Change) Decode(v interface{}) error {
	return json.Unmarshal(ch.New, v)
}

type changePayload struct {
	IDs  []int64 `json:"ids"`
	Data Change  `json:"data"`
}

// Subscription receives the changes of one joined channel.
type Subscription struct {
	client *Client
	topic  string
	filter Filter
	events chan Change

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// Events returns the change stream. It is closed when the subscription or
// the client is closed.
func (s *Subscription) Events() <-chan Change { return s.events }

// Topic returns the channel topic.
func (s *Subscription) Topic() string { return s.topic }

// Close leaves the channel.
func (s *Subscription) Close() error {
	s.client.mu.Lock()
	_, joined := s.client.subs[s.topic]
	delete(s.client.subs, s.topic)
	s.client.mu.Unlock()

	var err error
	if joined && s.client.IsConnected() {
		err = s.client.push(s.topic, EventLeave, struct{}{}, "")
	}
	s.closeEvents()
	return err
}

func (s *Subscription) deliver(ch Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ch:
	default:
		logger.Warn("Realtime event dropped, consumer too slow", "topic", s.topic)
	}
}

func (s *Subscription) closeEvents() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	})
}
