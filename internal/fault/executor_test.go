package fault

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type stubReceiver struct{ policy *Policy }

func (p stubReceiver) DefaultTrap() *Policy { return p.policy }

func failing(kind Kind) func(context.Context) (string, error) {
	return func(context.Context) (string, error) {
		return "", New(kind, "div.x", nil)
	}
}

func TestTrapUsesReceiverDefault(t *testing.T) {
	ex := NewDefault(zap.NewNop(), Options{})
	inv := Invocation{Op: "text", Receiver: stubReceiver{policy: Absent}}

	v, err := Do(context.Background(), ex, inv, failing(NotFound))
	require.NoError(t, err)
	assert.Empty(t, v)

	_, err = Do(context.Background(), ex, inv, failing(StaleReference))
	assert.ErrorIs(t, err, ErrStaleReference)
}

func TestCallPolicyOverridesDefault(t *testing.T) {
	ex := NewDefault(zap.NewNop(), Options{})
	inv := Invocation{Op: "text", Receiver: stubReceiver{policy: Absent}, Policy: Propagate}

	_, err := Do(context.Background(), ex, inv, failing(NotFound))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFallbackValue(t *testing.T) {
	ex := NewDefault(zap.NewNop(), Options{})
	var seen *Fault
	inv := Invocation{Op: "count", Policy: Trap(Timeout).With(func(inv *Invocation, f *Fault) (any, error) {
		seen = f
		return -1, nil
	})}

	n, err := Do(context.Background(), ex, inv, func(context.Context) (int, error) {
		return 0, New(Timeout, "ul", nil)
	})
	require.NoError(t, err)
	assert.Equal(t, -1, n)
	require.NotNil(t, seen)
	assert.Equal(t, "count", seen.Op)

	wrong := Invocation{Op: "count", Policy: Trap(Timeout).With(func(*Invocation, *Fault) (any, error) {
		return "nope", nil
	})}
	_, err = Do(context.Background(), ex, wrong, func(context.Context) (int, error) {
		return 0, New(Timeout, "ul", nil)
	})
	assert.ErrorContains(t, err, "fallback returned string")
}

func TestPlainErrorsPassThrough(t *testing.T) {
	ex := NewDefault(zap.NewNop(), Options{})
	boom := errors.New("boom")
	_, err := Do(context.Background(), ex, Invocation{Op: "x", Policy: Absent}, func(context.Context) (bool, error) {
		return false, boom
	})
	assert.Same(t, boom, err)
}

func TestDryRunSkipsMutating(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ex := NewDefault(zap.New(core), Options{DryRun: true, Trace: true})

	calls := 0
	click := func(context.Context) (bool, error) {
		calls++
		return false, nil
	}
	ok, err := Do(context.Background(), ex, Invocation{Op: "click", Mutating: true, Pretend: true}, click)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, calls)

	_, err = Do(context.Background(), ex, Invocation{Op: "text"}, click)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	assert.Equal(t, 1, logs.FilterMessage("Dry run, skipping operation.").Len())
	assert.Equal(t, 2, logs.FilterMessage("trace").Len())
}

func TestTraceRecordsTrap(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	ex := NewDefault(zap.New(core), Options{Trace: true})

	_, _ = Do(context.Background(), ex, Invocation{Op: "find", Policy: Absent}, failing(Timeout))

	entries := logs.FilterMessage("trace").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "timeout", entries[0].ContextMap()["trapped"])
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, inv *Invocation) {
				order = append(order, name)
				next(ctx, inv)
			}
		}
	}
	ex := NewExecutor(mw("outer"), mw("inner"))
	_, err := Do(context.Background(), ex, Invocation{Op: "x"}, func(context.Context) (int, error) {
		order = append(order, "op")
		return 1, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner", "op"}, order)
}
