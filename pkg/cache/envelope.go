// Package cache persists per-entity "cache envelopes": the last successful
// payload for one user together with its write time. Envelopes are
// disposable; a failed read is always reported as a miss.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/metrics"
	json "github.com/json-iterator/go"
)

// KeyPrefix is shared by every envelope key.
const KeyPrefix = "aspirely_"

// Entity names one cached collection and its time to live.
type Entity struct {
	Name string
	TTL  time.Duration
}

// Key returns the fixed storage key, e.g. aspirely_job_tracker_cache.
func (e Entity) Key() string {
	return KeyPrefix + e.Name + "_cache"
}

const (
	shortTTL = 30 * time.Minute
	longTTL  = 2 * time.Hour
)

var (
	JobTracker      = Entity{Name: "job_tracker", TTL: shortTTL}
	UserProfile     = Entity{Name: "user_profile", TTL: shortTTL}
	Credits         = Entity{Name: "credits", TTL: shortTTL}
	JobBoard        = Entity{Name: "job_board", TTL: shortTTL}
	Resumes         = Entity{Name: "resumes", TTL: shortTTL}
	CoverLetters    = Entity{Name: "cover_letters", TTL: longTTL}
	InterviewPrep   = Entity{Name: "interview_prep", TTL: longTTL}
	CompanyAnalyses = Entity{Name: "company_analyses", TTL: longTTL}
	LinkedInPosts   = Entity{Name: "linkedin_posts", TTL: longTTL}
)

// Entities lists every known cached entity.
var Entities = []Entity{
	JobTracker, UserProfile, Credits, JobBoard, Resumes,
	CoverLetters, InterviewPrep, CompanyAnalyses, LinkedInPosts,
}

// Envelope is the stored form of one cached payload.
type Envelope[T any] struct {
	Data      T      `json:"data"`
	Timestamp int64  `json:"timestamp"`
	UserID    string `json:"user_id,omitempty"`
}

// Age returns how old the envelope is at now.
func (e Envelope[T]) Age(now time.Time) time.Duration {
	return time.Duration(now.UnixMilli()-e.Timestamp) * time.Millisecond
}

// Valid reports whether now - timestamp < ttl.
func (e Envelope[T]) Valid(now time.Time, ttl time.Duration) bool {
	return now.UnixMilli()-e.Timestamp < ttl.Milliseconds()
}

// Read loads the envelope for entity. Corrupt, expired or foreign-user
// entries are evicted and reported as a miss. Errors are never returned.
func Read[T any](ctx context.Context, store Store, entity Entity, userID string, now time.Time) (Envelope[T], bool) {
	var env Envelope[T]
	m := metrics.Get()

	raw, err := store.Get(ctx, entity.Key())
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			logger.Warn("Cache read failed", "entity", entity.Name, "error", err)
			m.CacheErrorsTotal.WithLabelValues("get").Inc()
		}
		m.CacheMissesTotal.WithLabelValues(entity.Name).Inc()
		return env, false
	}

	reason := ""
	if err := json.Unmarshal(raw, &env); err != nil {
		reason = "corrupt"
	} else if !env.Valid(now, entity.TTL) {
		reason = "expired"
	} else if userID != "" && env.UserID != "" && env.UserID != userID {
		reason = "owner"
	}

	if reason != "" {
		logger.Debug("Evicting cache entry", "entity", entity.Name, "reason", reason)
		m.CacheEvictionsTotal.WithLabelValues(entity.Name, reason).Inc()
		m.CacheMissesTotal.WithLabelValues(entity.Name).Inc()
		if err := store.Delete(ctx, entity.Key()); err != nil {
			m.CacheErrorsTotal.WithLabelValues("delete").Inc()
		}
		return Envelope[T]{}, false
	}

	m.CacheHitsTotal.WithLabelValues(entity.Name).Inc()
	return env, true
}

// Write overwrites the envelope for entity with data stamped at now.
func Write[T any](ctx context.Context, store Store, entity Entity, userID string, data T, now time.Time) error {
	env := Envelope[T]{Data: data, Timestamp: now.UnixMilli(), UserID: userID}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", entity.Name, err)
	}
	if err := store.Set(ctx, entity.Key(), raw); err != nil {
		metrics.Get().CacheErrorsTotal.WithLabelValues("set").Inc()
		return fmt.Errorf("write %s envelope: %w", entity.Name, err)
	}
	return nil
}

// Evict removes the envelope for entity.
func Evict(ctx context.Context, store Store, entity Entity) error {
	if err := store.Delete(ctx, entity.Key()); err != nil {
		return fmt.Errorf("evict %s: %w", entity.Name, err)
	}
	metrics.Get().CacheEvictionsTotal.WithLabelValues(entity.Name, "explicit").Inc()
	return nil
}

// Purge removes every envelope in store, as done at sign-out.
func Purge(ctx context.Context, store Store) (int, error) {
	keys, err := store.Keys(ctx, KeyPrefix)
	if err != nil {
		return 0, fmt.Errorf("list cache keys: %w", err)
	}
	var errs []error
	n := 0
	for _, k := range keys {
		if err := store.Delete(ctx, k); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Status describes a stored envelope without decoding its payload.
type Status struct {
	Entity    Entity
	Present   bool
	Valid     bool
	Age       time.Duration
	UserID    string
	SizeBytes int
}

// Inspect reports the state of every known entity.
func Inspect(ctx context.Context, store Store, now time.Time) []Status {
	out := make([]Status, 0, len(Entities))
	for _, e := range Entities {
		st := Status{Entity: e}
		raw, err := store.Get(ctx, e.Key())
		if err == nil {
			var env Envelope[json.RawMessage]
			if json.Unmarshal(raw, &env) == nil {
				st.Present = true
				st.Valid = env.Valid(now, e.TTL)
				st.Age = env.Age(now)
				st.UserID = env.UserID
				st.SizeBytes = len(raw)
			}
		}
		out = append(out, st)
	}
	return out
}
