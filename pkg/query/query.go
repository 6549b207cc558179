// Package query keeps one entity's data in memory, backed by a TTL cache
// envelope, and refreshes it from the backend. Cached data is shown
// immediately and kept on screen when the network fails.
package query

import (
	"context"
	"sync"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/cache"
	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Options configures a Query.
type Options[T any] struct {
	Entity cache.Entity
	Store  cache.Store

	// Fetch loads fresh data from the backend.
	Fetch func(ctx context.Context) (T, error)
	// Ready gates fetching; when it reports false Refetch yields Empty.
	Ready func() bool
	// UserID stamps and checks cache ownership.
	UserID func() string
	Empty  T
	Now    func() time.Time
}

// State is a snapshot of a query.
type State[T any] struct {
	Data                T
	IsLoading           bool
	IsShowingCachedData bool
	ConnectionIssue     bool
	HasCache            bool
	Err                 error
	UpdatedAt           time.Time
}

// Query is the cached view of one entity.
type Query[T any] struct {
	opts Options[T]

	mu        sync.Mutex
	state     State[T]
	listeners map[int]func(State[T])
	nextID    int
}

// New creates a Query holding opts.Empty.
func New[T any](opts Options[T]) *Query[T] {
	if opts.Store == nil {
		opts.Store = cache.NopStore{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Query[T]{
		opts:      opts,
		state:     State[T]{Data: opts.Empty},
		listeners: make(map[int]func(State[T])),
	}
}

func (q *Query[T]) userID() string {
	if q.opts.UserID == nil {
		return ""
	}
	return q.opts.UserID()
}

func (q *Query[T]) ready() bool {
	return q.opts.Ready == nil || q.opts.Ready()
}

// Load reads the cache envelope. A valid envelope becomes the current
// data, flagged as cached.
func (q *Query[T]) Load(ctx context.Context) State[T] {
	env, ok := cache.Read[T](ctx, q.opts.Store, q.opts.Entity, q.userID(), q.opts.Now())

	q.mu.Lock()
	if ok {
		q.state.Data = env.Data
		q.state.HasCache = true
		q.state.IsShowingCachedData = true
		q.state.UpdatedAt = time.UnixMilli(env.Timestamp)
	} else {
		q.state.HasCache = false
		q.state.IsShowingCachedData = false
	}
	st := q.state
	q.mu.Unlock()

	q.notify(st)
	return st
}

// Refetch loads fresh data. A failure while cached data exists sets
// ConnectionIssue and is not returned; without cached data the error is
// stored in the state and returned.
func (q *Query[T]) Refetch(ctx context.Context) (State[T], error) {
	if !q.ready() {
		q.mu.Lock()
		q.state.Data = q.opts.Empty
		q.state.IsLoading = false
		q.state.Err = nil
		st := q.state
		q.mu.Unlock()
		q.notify(st)
		return st, nil
	}

	q.mu.Lock()
	q.state.IsLoading = !q.state.HasCache
	q.state.Err = nil
	st := q.state
	q.mu.Unlock()
	q.notify(st)

	ctx, span := telemetry.Start(ctx, "query.refetch", attribute.String("entity", q.opts.Entity.Name))
	data, err := q.opts.Fetch(ctx)
	telemetry.End(span, err)

	if err != nil {
		return q.Fail(err)
	}

	now := q.opts.Now()
	stored := true
	if err := cache.Write(ctx, q.opts.Store, q.opts.Entity, q.userID(), data, now); err != nil {
		logger.Warn("Cache write failed", "entity", q.opts.Entity.Name, "error", err)
		stored = false
	}

	q.mu.Lock()
	q.state = State[T]{
		Data:      data,
		HasCache:  stored || q.state.HasCache,
		UpdatedAt: now,
	}
	st = q.state
	q.mu.Unlock()
	q.notify(st)
	return st, nil
}

// Fail records a fetch that failed or could not be attempted. With cached
// data the data is kept, ConnectionIssue is set and no error is returned;
// without it err is stored in the state and returned.
func (q *Query[T]) Fail(err error) (State[T], error) {
	q.mu.Lock()
	q.state.IsLoading = false
	hasCache := q.state.HasCache
	if hasCache {
		q.state.ConnectionIssue = true
	} else {
		q.state.Err = err
	}
	st := q.state
	q.mu.Unlock()
	q.notify(st)

	if hasCache {
		logger.Warn("Fetch failed, showing cached data", "entity", q.opts.Entity.Name, "error", err)
		return st, nil
	}
	return st, err
}

// State returns the current snapshot.
func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Data returns the current data.
func (q *Query[T]) Data() T {
	return q.State().Data
}

// Mutate patches the in-memory data and rewrites the cache envelope.
func (q *Query[T]) Mutate(ctx context.Context, fn func(T) T) State[T] {
	q.mu.Lock()
	q.state.Data = fn(q.state.Data)
	st := q.state
	q.mu.Unlock()

	if err := cache.Write(ctx, q.opts.Store, q.opts.Entity, q.userID(), st.Data, q.opts.Now()); err != nil {
		logger.Warn("Cache write failed", "entity", q.opts.Entity.Name, "error", err)
	}
	q.notify(st)
	return st
}

// Entity returns the cached entity this query serves.
func (q *Query[T]) Entity() cache.Entity {
	return q.opts.Entity
}

// Invalidate evicts the cache envelope. The in-memory data is kept.
func (q *Query[T]) Invalidate(ctx context.Context) error {
	err := cache.Evict(ctx, q.opts.Store, q.opts.Entity)

	q.mu.Lock()
	q.state.HasCache = false
	q.state.IsShowingCachedData = false
	st := q.state
	q.mu.Unlock()

	q.notify(st)
	return err
}

// Subscribe registers fn for every state change. The returned func
// unregisters it.
func (q *Query[T]) Subscribe(fn func(State[T])) func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	id := q.nextID
	q.nextID++
	q.listeners[id] = fn
	return func() {
		q.mu.Lock()
		delete(q.listeners, id)
		q.mu.Unlock()
	}
}

func (q *Query[T]) notify(st State[T]) {
	q.mu.Lock()
	fns := make([]func(State[T]), 0, len(q.listeners))
	for _, fn := range q.listeners {
		fns = append(fns, fn)
	}
	q.mu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
