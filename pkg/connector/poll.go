// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrPollExhausted is returned by Poll when every attempt came back not ready.
var ErrPollExhausted = errors.New("poll attempts exhausted")

var errNotReady = errors.New("not ready")

// PollSpec describes a fixed-interval poll. Each attempt waits Interval
// before checking. MaxAttempts of zero polls until the context is done.
type PollSpec struct {
	Interval    time.Duration
	MaxAttempts int
}

// Poll calls check once per attempt until it reports ready, returns an error
// or the attempts run out. Waits are cancelled by ctx.
func Poll[T any](ctx context.Context, spec PollSpec, check func(ctx context.Context) (T, bool, error)) (T, error) {
	var zero T
	var b backoff.BackOff = backoff.NewConstantBackOff(spec.Interval)
	if spec.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(spec.MaxAttempts-1))
	}
	if err := sleepCtx(ctx, spec.Interval); err != nil {
		return zero, err
	}
	res, err := backoff.RetryWithData(func() (T, error) {
		val, ready, err := check(ctx)
		if err != nil {
			return zero, backoff.Permanent(err)
		}
		if !ready {
			return zero, errNotReady
		}
		return val, nil
	}, backoff.WithContext(b, ctx))
	if errors.Is(err, errNotReady) {
		return zero, ErrPollExhausted
	}
	return res, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
