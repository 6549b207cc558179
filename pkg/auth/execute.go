package auth

import (
	"context"

	"github.com/aspirely/aspirely-cli/pkg/logger"
	"github.com/aspirely/aspirely-cli/pkg/metrics"
)

// Execute runs fn, recovering from an expired bearer up to maxRetries
// times. If a refresh is already running the call queues behind it and is
// replayed once it completes; otherwise Execute refreshes itself and waits
// a settle delay that doubles with each attempt. Any other error, or an
// auth error after the last retry, is returned unchanged.
func Execute[T any](ctx context.Context, s *Session, label string, maxRetries int, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if s == nil || !IsAuthExpired(err) || attempt >= maxRetries {
			return zero, err
		}

		metrics.Get().AuthRetriesTotal.WithLabelValues(label).Inc()
		logger.Debug("Auth expired, retrying", "label", label, "attempt", attempt+1, "max", maxRetries)

		queued, qerr := s.awaitInFlight(ctx)
		if queued {
			if qerr != nil {
				return zero, qerr
			}
			continue
		}

		if _, rerr := s.refresh(ctx, "reactive"); rerr != nil {
			return zero, rerr
		}
		if err := sleep(ctx, s.opts.SettleDelay<<attempt); err != nil {
			return zero, err
		}
	}
}

// Do is Execute for calls without a result.
func Do(ctx context.Context, s *Session, label string, maxRetries int, fn func(context.Context) error) error {
	_, err := Execute(ctx, s, label, maxRetries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
