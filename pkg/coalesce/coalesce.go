// Package coalesce shares in-flight calls and remembers their results for
// the lifetime of a signed-in session.
package coalesce

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Group coalesces calls by key. The zero value is ready to use.
type Group struct {
	sf   singleflight.Group
	live singleflight.Group

	mu   sync.Mutex
	memo map[string]interface{}
	gen  uint64
}

// Do returns the remembered result for key, joins an in-flight call for
// key, or runs fn. Only successful results are remembered. A caller whose
// ctx ends stops waiting; the shared call keeps running for the others.
func Do[T any](ctx context.Context, g *Group, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	g.mu.Lock()
	if v, ok := g.memo[key]; ok {
		g.mu.Unlock()
		return v.(T), nil
	}
	gen := g.gen
	g.mu.Unlock()

	ch := g.sf.DoChan(key, func() (interface{}, error) {
		v, err := fn(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		g.mu.Lock()
		if g.gen == gen {
			if g.memo == nil {
				g.memo = make(map[string]interface{})
			}
			g.memo[key] = v
		}
		g.mu.Unlock()
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Share joins an in-flight call for key or runs fn. The result is not
// remembered, so a later call runs fn again.
func Share[T any](ctx context.Context, g *Group, key string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	ch := g.live.DoChan(key, func() (interface{}, error) {
		return fn(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Forget drops the remembered result for key.
func (g *Group) Forget(key string) {
	g.mu.Lock()
	delete(g.memo, key)
	g.mu.Unlock()
	g.sf.Forget(key)
}

// Reset drops every remembered result. Calls in flight finish but are
// not remembered.
func (g *Group) Reset() {
	g.mu.Lock()
	g.memo = nil
	g.gen++
	g.mu.Unlock()
}

// Len returns the number of remembered results.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.memo)
}
