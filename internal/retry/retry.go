// Package retry runs operations with a bounded number of attempts and a fixed pause between them.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Policy bounds an operation to Attempts tries separated by Delay.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

func (p Policy) backoff() goretry.Backoff {
	delay := p.Delay
	if delay <= 0 {
		delay = time.Nanosecond
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	return goretry.WithMaxRetries(uint64(attempts-1), goretry.NewConstant(delay))
}

// Do invokes op until it succeeds, the attempts are exhausted, or ctx ends.
// The last operation error is returned on exhaustion.
func Do[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return goretry.RetryableError(err)
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Failure pairs an item with the error from its final attempt.
type Failure[T any] struct {
	Item T
	Err  error
}

var errPending = errors.New("shortlist not drained")

// Shortlist runs fn over items once, then re-runs only the failed items on each later round,
// up to p.Attempts rounds in total. Items still failing after the last round are returned in
// their original order.
func Shortlist[T any](ctx context.Context, p Policy, items []T, fn func(context.Context, T) error) []Failure[T] {
	pending := items
	var failed []Failure[T]
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		failed = failed[:0:0]
		for i, item := range pending {
			if ctx.Err() != nil {
				for _, rest := range pending[i:] {
					failed = append(failed, Failure[T]{Item: rest, Err: ctx.Err()})
				}
				return struct{}{}, ctx.Err()
			}
			if err := fn(ctx, item); err != nil {
				failed = append(failed, Failure[T]{Item: item, Err: err})
			}
		}
		if len(failed) == 0 {
			return struct{}{}, nil
		}
		next := make([]T, len(failed))
		for i, f := range failed {
			next[i] = f.Item
		}
		pending = next
		return struct{}{}, fmt.Errorf("%w: %d item(s)", errPending, len(failed))
	})
	if err != nil && !errors.Is(err, errPending) && len(failed) == 0 {
		// The context ended before the first round started.
		for _, item := range pending {
			failed = append(failed, Failure[T]{Item: item, Err: err})
		}
	}
	return failed
}
