// Package pipeline: standard segments and wrappers for common pipeline patterns.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Identity returns a segment that passes its inputs through unchanged.
// Useful as a Branch fallback or a placeholder.
func Identity() Segment {
	return SegmentFunc{
		Label: "identity",
		In:    Variadic,
		Out:   Variadic,
		Fn: func(ctx context.Context, inputs ...*Object) ([]*Object, error) {
			return inputs, nil
		},
	}
}

// Tap returns a segment that calls fn for every input then passes inputs through unchanged.
// Use for logging, metrics, or side effects without changing the objects.
func Tap(fn func(context.Context, *Object)) Segment {
	return SegmentFunc{
		Label: "tap",
		In:    Variadic,
		Out:   Variadic,
		Fn: func(ctx context.Context, inputs ...*Object) ([]*Object, error) {
			for _, in := range inputs {
				fn(ctx, in)
			}
			return inputs, nil
		},
	}
}

// Transform returns a typed 1->1 processor: the input payload must be an A and
// convert produces the B payload of the output object.
func Transform[A, B any](name string, convert func(ctx context.Context, a A) (B, error)) Segment {
	return Processor(name, func(ctx context.Context, payload interface{}) (interface{}, error) {
		a, ok := payload.(A)
		if !ok {
			var zero A
			return nil, fmt.Errorf("transform: expected %T, got %T", zero, payload)
		}
		return convert(ctx, a)
	})
}

// Validate returns a segment that passes inputs through only if predicate holds
// for every one of them. Otherwise it returns an error with errMsg.
func Validate(predicate func(*Object) bool, errMsg string) Segment {
	if errMsg == "" {
		errMsg = "validation failed"
	}
	return SegmentFunc{
		Label: "validate",
		In:    Variadic,
		Out:   Variadic,
		Fn: func(ctx context.Context, inputs ...*Object) ([]*Object, error) {
			for _, in := range inputs {
				if !predicate(in) {
					return nil, fmt.Errorf("%s: %s", in.LocationName(), errMsg)
				}
			}
			return inputs, nil
		},
	}
}

type wrapped struct {
	inner Segment
	label string
	call  func(ctx context.Context, inputs ...*Object) ([]*Object, error)
}

func (w *wrapped) Name() string { return w.label + "(" + SegmentName(w.inner) + ")" }
func (w *wrapped) Arity() Arity { return w.inner.Arity() }
func (w *wrapped) Unwrap() Segment { return w.inner }

func (w *wrapped) Call(ctx context.Context, inputs ...*Object) ([]*Object, error) {
	return w.call(ctx, inputs...)
}

func (w *wrapped) CheckpointNames() []string { return CollectCheckpointNames(w.inner) }

// WithTimeout wraps inner so it runs with a context deadline of now+timeout.
// If inner does not return before the deadline, context.DeadlineExceeded is returned.
func WithTimeout(inner Segment, timeout time.Duration) Segment {
	return &wrapped{
		inner: inner,
		label: "timeout",
		call: func(ctx context.Context, inputs ...*Object) ([]*Object, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			out, err := inner.Call(ctx, inputs...)
			if err == nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
			}
			return out, err
		},
	}
}

// RetryPolicy configures how Retry re-runs a failing segment in process.
// MaxAttempts counts the first call; values below 1 mean a single attempt.
// Backoff is the delay before the second attempt; with Multiplier > 1 each
// further delay grows by that factor, capped by Cap when Cap > 0.
// If ShouldRetry is non-nil only errors for which it returns true are retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Multiplier  float64
	Cap         time.Duration
	ShouldRetry func(err error) bool
}

// Delay returns the wait before attempt n (n >= 1 is the first retry).
func (p RetryPolicy) Delay(n int) time.Duration {
	d := p.Backoff
	if p.Multiplier > 1 {
		for i := 1; i < n; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if p.Cap > 0 && d > p.Cap {
				return p.Cap
			}
		}
	}
	if p.Cap > 0 && d > p.Cap {
		d = p.Cap
	}
	return d
}

// Retryable marks err as retryable. Use with RetryPolicy.ShouldRetry so only
// these errors trigger a retry (e.g. a flaky external process), not permanent ones.
type Retryable struct{ Err error }

func (e *Retryable) Error() string { return e.Err.Error() }
func (e *Retryable) Unwrap() error { return e.Err }
func RetryableErr(err error) error { return &Retryable{Err: err} }
func IsRetryable(err error) bool   { return errors.As(err, new(*Retryable)) }

// Retry wraps inner so that failures are retried according to policy. Arity and
// configuration errors are never retried. Context cancellation stops retrying.
func Retry(inner Segment, policy RetryPolicy) Segment {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &wrapped{
		inner: inner,
		label: "retry",
		call: func(ctx context.Context, inputs ...*Object) ([]*Object, error) {
			var lastErr error
			for attempt := 0; attempt < attempts; attempt++ {
				if attempt > 0 {
					t := time.NewTimer(policy.Delay(attempt))
					select {
					case <-ctx.Done():
						t.Stop()
						return nil, errors.Join(lastErr, ctx.Err())
					case <-t.C:
					}
				}
				out, err := inner.Call(ctx, inputs...)
				if err == nil {
					return out, nil
				}
				lastErr = err
				if errors.Is(err, ErrArity) || errors.Is(err, ErrConfiguration) {
					return nil, err
				}
				if policy.ShouldRetry != nil && !policy.ShouldRetry(err) {
					return nil, err
				}
			}
			return nil, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
		},
	}
}
