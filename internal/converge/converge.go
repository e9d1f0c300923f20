// Package converge repeats an action until an observed value stops
// changing.
package converge

import (
	"context"
	"time"
)

// Options bounds a loop. Threshold is the number of consecutive
// unchanged samples required; MaxIterations <= 0 means no cap.
type Options struct {
	Threshold     int
	MaxIterations int
	// Pause is slept after each action, before sampling.
	Pause time.Duration
}

// Result reports how a loop ended.
type Result[T comparable] struct {
	Value      T
	Iterations int
	Stable     int
	Converged  bool
}

// Action is performed once per iteration. i starts at 0.
type Action func(ctx context.Context, i int) error

// Sampler observes the signal.
type Sampler[T comparable] func(ctx context.Context) (T, error)

// State is the bookkeeping of a running loop. The stable count is reset
// whenever a sample differs from the previous one.
type State[T comparable] struct {
	Last       T
	Stable     int
	Iterations int
}

// Observe records a new sample and reports whether it matched the last.
func (s *State[T]) Observe(v T) bool {
	s.Iterations++
	if v == s.Last {
		s.Stable++
		return true
	}
	s.Stable = 0
	s.Last = v
	return false
}

// Run samples a baseline, then alternates action and sample until the
// signal holds for opts.Threshold consecutive iterations or
// opts.MaxIterations have run. Errors from action, sample or ctx end the
// loop and are returned with the progress so far.
func Run[T comparable](ctx context.Context, opts Options, action Action, sample Sampler[T]) (Result[T], error) {
	threshold := max(opts.Threshold, 1)

	first, err := sample(ctx)
	if err != nil {
		return Result[T]{}, err
	}
	st := State[T]{Last: first}
	result := func() Result[T] {
		return Result[T]{
			Value:      st.Last,
			Iterations: st.Iterations,
			Stable:     st.Stable,
			Converged:  st.Stable >= threshold,
		}
	}

	for st.Stable < threshold && (opts.MaxIterations <= 0 || st.Iterations < opts.MaxIterations) {
		if err := ctx.Err(); err != nil {
			return result(), err
		}
		if action != nil {
			if err := action(ctx, st.Iterations); err != nil {
				return result(), err
			}
		}
		if err := sleep(ctx, opts.Pause); err != nil {
			return result(), err
		}
		v, err := sample(ctx)
		if err != nil {
			return result(), err
		}
		st.Observe(v)
	}
	return result(), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
