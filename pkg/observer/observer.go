// Package observer waits for a server-side result that arrives either as a
// realtime change or through polling, whichever comes first.
package observer

import (
	"context"
	"errors"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/metrics"
	"github.com/aspirely/aspirely-cli/pkg/realtime"
)

// ErrTimeout is returned when no completed value arrives in time.
var ErrTimeout = errors.New("observer: timed out waiting for result")

const (
	DefaultPollInterval = 3 * time.Second
	DefaultTimeout      = 5 * time.Minute
)

// SubscribeFunc opens a push source. The returned stop func releases it.
type SubscribeFunc[T any] func(ctx context.Context) (<-chan T, func(), error)

// Options configures Observe.
type Options[T any] struct {
	// Kind labels metrics and logs, e.g. "cover_letter".
	Kind string

	// Poll fetches the current value.
	Poll func(ctx context.Context) (T, error)
	// Subscribe is optional; when it fails only polling is used.
	Subscribe SubscribeFunc[T]
	// Done reports whether v is final. It may be called more than once
	// with the same value.
	Done func(v T) bool

	PollInterval time.Duration
	Timeout      time.Duration
}

type sample[T any] struct {
	v   T
	err error
}

// Observe returns the first value for which Done reports true.
func Observe[T any](ctx context.Context, opts Options[T]) (T, error) {
	var zero T
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	var pushed <-chan T
	if opts.Subscribe != nil {
		ch, stop, err := opts.Subscribe(ctx)
		if err != nil {
			logger.Debug("Realtime unavailable, polling only", "kind", opts.Kind, "error", err)
		} else {
			pushed = ch
			defer stop()
		}
	}

	polled := make(chan sample[T])
	go poll(ctx, opts, polled)

	finish := func(v T, source string) (T, error) {
		metrics.Get().GenerationWaitDuration.WithLabelValues(opts.Kind, source).Observe(time.Since(start).Seconds())
		logger.Debug("Result observed", "kind", opts.Kind, "source", source, "after", time.Since(start))
		return v, nil
	}

	for {
		select {
		case v, ok := <-pushed:
			if !ok {
				logger.Debug("Realtime closed, polling only", "kind", opts.Kind)
				pushed = nil
				continue
			}
			if opts.Done(v) {
				return finish(v, "realtime")
			}
		case s := <-polled:
			if s.err != nil {
				logger.Every("observe-poll-"+opts.Kind, 30*time.Second, "Poll failed", "kind", opts.Kind, "error", s.err)
				continue
			}
			if opts.Done(s.v) {
				return finish(s.v, "poll")
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return zero, ErrTimeout
			}
			return zero, ctx.Err()
		}
	}
}

// poll sends the current value immediately and then once per interval.
func poll[T any](ctx context.Context, opts Options[T], out chan<- sample[T]) {
	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		v, err := opts.Poll(ctx)
		select {
		case out <- sample[T]{v: v, err: err}:
		case <-ctx.Done():
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Realtime adapts a realtime subscription into a SubscribeFunc that
// decodes each changed row into T.
func Realtime[T any](client *realtime.Client, filter realtime.Filter) SubscribeFunc[T] {
	return func(ctx context.Context) (<-chan T, func(), error) {
		if client == nil {
			return nil, nil, errors.New("realtime disabled")
		}
		sub, err := client.Subscribe(ctx, filter)
		if err != nil {
			return nil, nil, err
		}

		out := make(chan T)
		go func() {
			defer close(out)
			for ch := range sub.Events() {
				var v T
				if err := ch.Decode(&v); err != nil {
					logger.Debug("Realtime row ignored", "table", filter.Table, "error", err)
					continue
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}()

		stop := func() {
			if err := sub.Close(); err != nil {
				logger.Debug("Realtime unsubscribe failed", "table", filter.Table, "error", err)
			}
		}
		return out, stop, nil
	}
}
