package query

import (
	"context"
	"sync"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/metrics"
	"github.com/google/uuid"
)

// Identifiable is a list item with a stable id.
type Identifiable interface {
	GetID() string
}

// MutationKind is the kind of local patch.
type MutationKind string

const (
	KindAdd    MutationKind = "add"
	KindUpdate MutationKind = "update"
	KindDelete MutationKind = "delete"
)

// MutationStatus tracks a patch from creation to server outcome.
type MutationStatus int

const (
	Pending MutationStatus = iota
	Confirmed
	Failed
)

func (s MutationStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Mutation is one optimistic patch awaiting the server.
type Mutation[T Identifiable] struct {
	ID        string
	Kind      MutationKind
	ItemID    string
	Item      T
	CreatedAt time.Time

	// mu is the owning list's lock; status and err are written under it.
	mu     *sync.Mutex
	status MutationStatus
	err    error
}

// Status returns the mutation's current status.
func (m *Mutation[T]) Status() MutationStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Err returns the server error of a failed mutation.
func (m *Mutation[T]) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// snapshot is the last value of a record the server is known to hold.
type snapshot[T any] struct {
	item    T
	present bool
	index   int
}

// OptimisticList is a cached list whose local patches are applied before
// the server confirms them and rolled back when it refuses.
type OptimisticList[T Identifiable] struct {
	q *Query[[]T]

	mu      sync.Mutex
	pending []*Mutation[T]
	// base holds the server snapshot of every id with pending mutations.
	base map[string]snapshot[T]
}

// NewOptimisticList builds the list's Query from opts. Every fetched list
// is reconciled with the pending mutations before it is shown or cached.
func NewOptimisticList[T Identifiable](opts Options[[]T]) *OptimisticList[T] {
	l := &OptimisticList[T]{base: make(map[string]snapshot[T])}
	fetch := opts.Fetch
	opts.Fetch = func(ctx context.Context) ([]T, error) {
		items, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return l.Reconcile(items), nil
	}
	l.q = New(opts)
	return l
}

// Query returns the underlying cached query.
func (l *OptimisticList[T]) Query() *Query[[]T] { return l.q }

// Items returns the displayed list.
func (l *OptimisticList[T]) Items() []T { return l.q.Data() }

// Pending returns the number of unconfirmed mutations.
func (l *OptimisticList[T]) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// PendingIDs returns the ids of items with unconfirmed mutations.
func (l *OptimisticList[T]) PendingIDs() map[string]bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make(map[string]bool, len(l.pending))
	for _, m := range l.pending {
		ids[m.ItemID] = true
	}
	return ids
}

// track registers a mutation. The first pending mutation of an id records
// the displayed record as its server snapshot.
func (l *OptimisticList[T]) track(kind MutationKind, itemID string, item T) *Mutation[T] {
	shown, idx := find(l.Items(), itemID)

	l.mu.Lock()
	defer l.mu.Unlock()
	m := &Mutation[T]{
		ID:        uuid.NewString(),
		Kind:      kind,
		ItemID:    itemID,
		Item:      item,
		CreatedAt: time.Now(),
		mu:        &l.mu,
	}
	if _, ok := l.base[itemID]; !ok {
		l.base[itemID] = snapshot[T]{item: shown, present: idx >= 0, index: idx}
	}
	l.pending = append(l.pending, m)
	return m
}

// Add shows item at the top of the list.
func (l *OptimisticList[T]) Add(ctx context.Context, item T) *Mutation[T] {
	m := l.track(KindAdd, item.GetID(), item)
	l.q.Mutate(ctx, func(items []T) []T {
		return append([]T{item}, without(items, item.GetID())...)
	})
	return m
}

// Update replaces the item with the same id. It reports false when no
// such item is displayed.
func (l *OptimisticList[T]) Update(ctx context.Context, item T) (*Mutation[T], bool) {
	if _, idx := find(l.Items(), item.GetID()); idx < 0 {
		return nil, false
	}
	m := l.track(KindUpdate, item.GetID(), item)
	l.q.Mutate(ctx, func(items []T) []T {
		return replace(items, item.GetID(), item)
	})
	return m, true
}

// Delete hides the item with id. It reports false when no such item is
// displayed.
func (l *OptimisticList[T]) Delete(ctx context.Context, id string) (*Mutation[T], bool) {
	prev, idx := find(l.Items(), id)
	if idx < 0 {
		return nil, false
	}
	m := l.track(KindDelete, id, prev)
	l.q.Mutate(ctx, func(items []T) []T {
		return without(items, id)
	})
	return m, true
}

// settle removes m from the pending set. It reports false if m was
// already settled. Confirmed adds and updates become the id's snapshot;
// a confirmed delete leaves the id absent.
func (l *OptimisticList[T]) settle(m *Mutation[T], status MutationStatus, err error, server T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if m.status != Pending {
		return false
	}
	m.status, m.err = status, err
	for i, p := range l.pending {
		if p == m {
			l.pending = append(l.pending[:i], l.pending[i+1:]...)
			break
		}
	}
	if status == Confirmed {
		base := l.base[m.ItemID]
		if m.Kind == KindDelete {
			base.present = false
		} else {
			base.item, base.present = server, true
		}
		l.base[m.ItemID] = base
	}
	metrics.Get().MutationsTotal.WithLabelValues(string(m.Kind), status.String()).Inc()
	return true
}

// rebuildLocked replays the pending mutations of id over its snapshot.
// When none remain the snapshot is dropped.
func (l *OptimisticList[T]) rebuildLocked(id string) snapshot[T] {
	cur := l.base[id]
	remaining := false
	for _, m := range l.pending {
		if m.ItemID != id {
			continue
		}
		remaining = true
		switch m.Kind {
		case KindAdd:
			cur.item, cur.present = m.Item, true
		case KindUpdate:
			if cur.present {
				cur.item = m.Item
			}
		case KindDelete:
			cur.present = false
		}
	}
	if !remaining {
		delete(l.base, id)
	}
	return cur
}

// Confirm settles m with the row the server stored. For deletes server is
// ignored.
func (l *OptimisticList[T]) Confirm(ctx context.Context, m *Mutation[T], server T) {
	if !l.settle(m, Confirmed, nil, server) {
		return
	}
	l.mu.Lock()
	cur := l.rebuildLocked(m.ItemID)
	l.mu.Unlock()
	l.show(ctx, m.ItemID, cur)
}

// Fail settles m and reverts its patch. The record is rebuilt from the
// last server snapshot plus the mutations still pending for it, so the
// result does not depend on the order in which stacked mutations settle.
func (l *OptimisticList[T]) Fail(ctx context.Context, m *Mutation[T], err error) {
	var zero T
	if !l.settle(m, Failed, err, zero) {
		return
	}
	logger.Warn("Optimistic change rolled back", "kind", m.Kind, "id", m.ItemID, "error", err)

	l.mu.Lock()
	cur := l.rebuildLocked(m.ItemID)
	l.mu.Unlock()
	l.show(ctx, m.ItemID, cur)
}

// show makes the displayed record id match cur. A record that reappears
// goes back to the position it was last seen at.
func (l *OptimisticList[T]) show(ctx context.Context, id string, cur snapshot[T]) {
	l.q.Mutate(ctx, func(items []T) []T {
		_, idx := find(items, id)
		switch {
		case !cur.present:
			return without(items, id)
		case idx >= 0:
			return replace(items, id, cur.item)
		default:
			return insertAt(items, cur.index, cur.item)
		}
	})
}

// Commit runs write and settles m with its outcome.
func (l *OptimisticList[T]) Commit(ctx context.Context, m *Mutation[T], write func(ctx context.Context) (T, error)) (T, error) {
	server, err := write(ctx)
	if err != nil {
		l.Fail(ctx, m, err)
		return server, err
	}
	l.Confirm(ctx, m, server)
	return server, nil
}

// Reconcile merges a fetched list with the pending mutations. The server
// list wins for every record without a pending mutation; pending patches
// are laid over it, and ids appear at most once.
func (l *OptimisticList[T]) Reconcile(server []T) []T {
	out := make([]T, 0, len(server))
	seen := make(map[string]bool, len(server))
	for _, item := range server {
		if seen[item.GetID()] {
			continue
		}
		seen[item.GetID()] = true
		out = append(out, item)
	}

	l.mu.Lock()
	pending := append([]*Mutation[T](nil), l.pending...)
	for id := range l.base {
		item, idx := find(out, id)
		l.base[id] = snapshot[T]{item: item, present: idx >= 0, index: idx}
	}
	l.mu.Unlock()

	for _, m := range pending {
		switch m.Kind {
		case KindAdd:
			if !seen[m.ItemID] {
				out = append([]T{m.Item}, out...)
				seen[m.ItemID] = true
			}
		case KindUpdate:
			if seen[m.ItemID] {
				out = replace(out, m.ItemID, m.Item)
			}
		case KindDelete:
			out = without(out, m.ItemID)
			delete(seen, m.ItemID)
		}
	}
	return out
}

func find[T Identifiable](items []T, id string) (T, int) {
	for i, item := range items {
		if item.GetID() == id {
			return item, i
		}
	}
	var zero T
	return zero, -1
}

func without[T Identifiable](items []T, id string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if item.GetID() != id {
			out = append(out, item)
		}
	}
	return out
}

func replace[T Identifiable](items []T, id string, item T) []T {
	out := make([]T, len(items))
	copy(out, items)
	for i := range out {
		if out[i].GetID() == id {
			out[i] = item
		}
	}
	return out
}

func insertAt[T any](items []T, idx int, item T) []T {
	if idx < 0 || idx > len(items) {
		idx = len(items)
	}
	out := make([]T, 0, len(items)+1)
	out = append(out, items[:idx]...)
	out = append(out, item)
	return append(out, items[idx:]...)
}
