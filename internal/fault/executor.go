package fault

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Invocation describes one operation flowing through the executor
// pipeline. Stages read the request fields and update the outcome fields.
type Invocation struct {
	Op       string
	Args     []any
	Receiver any
	// Mutating operations are skipped in dry-run mode and Pretend is
	// returned instead.
	Mutating bool
	Pretend  any
	Policy   *Policy

	Result  any
	Err     error
	Trapped *Fault

	run func(ctx context.Context) (any, error)
}

// Handler executes an invocation, recording its outcome on inv.
type Handler func(ctx context.Context, inv *Invocation)

// Middleware wraps a Handler with a cross-cutting stage.
type Middleware func(next Handler) Handler

// Executor runs operations through an ordered middleware pipeline.
type Executor struct {
	chain Handler
}

// NewExecutor builds an executor. The first middleware is the outermost stage.
func NewExecutor(mws ...Middleware) *Executor {
	var h Handler = func(ctx context.Context, inv *Invocation) {
		inv.Result, inv.Err = inv.run(ctx)
	}
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return &Executor{chain: h}
}

// Options selects the optional pipeline stages.
type Options struct {
	Trace  bool
	DryRun bool
}

// NewDefault builds the standard pipeline: trace, dry-run, trap.
func NewDefault(logger *zap.Logger, opts Options) *Executor {
	var mws []Middleware
	if opts.Trace {
		mws = append(mws, TraceStage(logger))
	}
	if opts.DryRun {
		mws = append(mws, DryRunStage(logger))
	}
	mws = append(mws, TrapStage())
	return NewExecutor(mws...)
}

// Do runs fn as inv through ex and converts the result back to T.
func Do[T any](ctx context.Context, ex *Executor, inv Invocation, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	inv.run = func(ctx context.Context) (any, error) {
		return fn(ctx)
	}
	ex.chain(ctx, &inv)
	if inv.Err != nil {
		return zero, inv.Err
	}
	if inv.Result == nil {
		return zero, nil
	}
	v, ok := inv.Result.(T)
	if !ok {
		return zero, fmt.Errorf("%s: fallback returned %T, want %T", inv.Op, inv.Result, zero)
	}
	return v, nil
}

// TrapStage converts faults handled by the invocation's policy, or the
// receiver's default policy, into fallback results. Everything else
// passes through untouched.
func TrapStage() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) {
			next(ctx, inv)
			if inv.Err == nil {
				return
			}
			var f *Fault
			if !errors.As(inv.Err, &f) {
				return
			}
			policy := inv.Policy
			if policy == nil {
				if r, ok := inv.Receiver.(DefaultTrapper); ok {
					policy = r.DefaultTrap()
				}
			}
			if !policy.Handles(f.Kind) {
				return
			}
			if f.Op == "" {
				f.Op = inv.Op
			}
			inv.Trapped = f
			inv.Result, inv.Err = policy.apply(inv, f)
		}
	}
}

// DryRunStage skips mutating invocations and returns their pretend value.
func DryRunStage(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) {
			if !inv.Mutating {
				next(ctx, inv)
				return
			}
			logger.Info("Dry run, skipping operation.",
				zap.String("op", inv.Op),
				zap.Any("args", inv.Args),
				zap.Any("pretend", inv.Pretend))
			inv.Result, inv.Err = inv.Pretend, nil
		}
	}
}

// TraceStage logs every invocation with its outcome and any fallback taken.
func TraceStage(logger *zap.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, inv *Invocation) {
			next(ctx, inv)
			fields := []zap.Field{
				zap.String("op", inv.Op),
				zap.Any("args", inv.Args),
			}
			switch {
			case inv.Trapped != nil:
				fields = append(fields,
					zap.Stringer("trapped", inv.Trapped.Kind),
					zap.Any("fallback", inv.Result))
			case inv.Err != nil:
				fields = append(fields, zap.Error(inv.Err))
			default:
				fields = append(fields, zap.Any("result", inv.Result))
			}
			logger.Debug("trace", fields...)
		}
	}
}
