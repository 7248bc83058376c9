package forecast

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSeededSimulator() *Simulator {
	return NewSimulator(rand.New(rand.NewSource(42)))
}

func TestRun_EmptyHistory(t *testing.T) {
	_, err := newSeededSimulator().Run(nil, 7, 100)
	require.ErrorIs(t, err, ErrInsufficientData)
}

func TestRun_InvalidArguments(t *testing.T) {
	sim := newSeededSimulator()
	_, err := sim.Run([]int{1, 2}, 0, 100)
	require.Error(t, err)
	_, err = sim.Run([]int{1, 2}, 7, 0)
	require.Error(t, err)
}

func TestRun_AllZeroHistoryForecastsZero(t *testing.T) {
	f, err := newSeededSimulator().Run([]int{0}, 14, 500)
	require.NoError(t, err)
	assert.Zero(t, f.Optimistic)
	assert.Zero(t, f.Conservative)
}

func TestRun_ConstantHistoryIsExact(t *testing.T) {
	f, err := newSeededSimulator().Run([]int{4, 4, 4, 4}, 10, 300)
	require.NoError(t, err)
	assert.Equal(t, 40.0, f.Optimistic)
	assert.Equal(t, 40.0, f.Conservative)
}

func TestRun_PercentilesWithinBounds(t *testing.T) {
	history := []int{3, 5, 0, 2, 4, 1, 3}
	f, err := newSeededSimulator().Run(history, 7, 2000)
	require.NoError(t, err)

	// The lower percentile is the safer commitment, so it sits at or below
	// the conservative one on the number line.
	assert.LessOrEqual(t, f.Optimistic, f.Conservative)
	assert.Greater(t, f.Optimistic, 0.0)
	assert.Less(t, f.Conservative, 35.0) // 7 days x max(history)
}

func TestRun_SeededRunsAreReproducible(t *testing.T) {
	history := []int{3, 5, 0, 2, 4, 1, 3}
	a, err := NewSimulator(rand.New(rand.NewSource(7))).Run(history, 14, 1000)
	require.NoError(t, err)
	b, err := NewSimulator(rand.New(rand.NewSource(7))).Run(history, 14, 1000)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestPercentile_LinearInterpolation(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50}
	assert.Equal(t, 10.0, percentile(sorted, 0))
	assert.Equal(t, 50.0, percentile(sorted, 100))
	assert.Equal(t, 30.0, percentile(sorted, 50))
	// rank 0.6 between 10 and 20
	assert.InDelta(t, 16.0, percentile(sorted, 15), 1e-9)
	assert.InDelta(t, 22.0, percentile(sorted, 30), 1e-9)
}
