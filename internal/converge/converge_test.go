package converge_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/claim4me/internal/converge"
)

func TestConstantSamplerStopsAfterThreshold(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		actions := 0
		res, err := converge.Run(context.Background(), converge.Options{Threshold: n, MaxIterations: 100},
			func(ctx context.Context, i int) error { actions++; return nil },
			func(ctx context.Context) (string, error) { return "42", nil })
		require.NoError(t, err)
		assert.Equal(t, n, res.Iterations)
		assert.Equal(t, n, actions)
		assert.Equal(t, "42", res.Value)
		assert.True(t, res.Converged)
	}
}

func TestChangingSamplerStopsAtCap(t *testing.T) {
	next := 0
	res, err := converge.Run(context.Background(), converge.Options{Threshold: 2, MaxIterations: 7}, nil,
		func(ctx context.Context) (int, error) { next++; return next, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, res.Iterations)
	assert.Equal(t, 8, res.Value, "baseline plus seven iterations")
	assert.Zero(t, res.Stable)
	assert.False(t, res.Converged)
}

func TestStableCountResetsOnChange(t *testing.T) {
	samples := []int{0, 0, 1, 1, 1, 2, 2, 2}
	i := 0
	res, err := converge.Run(context.Background(), converge.Options{Threshold: 2}, nil,
		func(ctx context.Context) (int, error) { v := samples[i]; i++; return v, nil })
	require.NoError(t, err)
	assert.Equal(t, 1, res.Value)
	assert.Equal(t, 4, res.Iterations)
	assert.Equal(t, 2, res.Stable)
}

func TestCounterIncreasesOnceThenHolds(t *testing.T) {
	counter := 10
	res, err := converge.Run(context.Background(), converge.Options{Threshold: 2, MaxIterations: 30},
		func(ctx context.Context, i int) error {
			if i == 0 {
				counter += 5
			}
			return nil
		},
		func(ctx context.Context) (int, error) { return counter, nil })
	require.NoError(t, err)
	assert.Equal(t, 15, res.Value)
	assert.Equal(t, 3, res.Iterations)
	assert.True(t, res.Converged)
}

func TestErrorsStopTheLoop(t *testing.T) {
	boom := errors.New("boom")
	res, err := converge.Run(context.Background(), converge.Options{Threshold: 3},
		func(ctx context.Context, i int) error {
			if i == 1 {
				return boom
			}
			return nil
		},
		func(ctx context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, res.Iterations)
}

func TestPauseRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := converge.Run(ctx, converge.Options{Threshold: 3, Pause: time.Minute}, nil,
		func(ctx context.Context) (int, error) { return 1, nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStateObserve(t *testing.T) {
	var st converge.State[int]
	assert.True(t, st.Observe(0))
	assert.False(t, st.Observe(3))
	assert.Equal(t, 0, st.Stable)
	assert.True(t, st.Observe(3))
	assert.Equal(t, 1, st.Stable)
	assert.Equal(t, 3, st.Iterations)
}
