package optimizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npanj/spark/vector"
)

func TestLossConverged(t *testing.T) {
	tests := []struct {
		name     string
		history  []float64
		tol      float64
		expected bool
	}{
		{"empty", nil, 1e-3, false},
		{"single_entry", []float64{1}, 1e-3, false},
		{"small_change", []float64{1.0, 0.9999}, 1e-3, true},
		{"large_change", []float64{1.0, 0.5}, 1e-3, false},
		{"disabled", []float64{1.0, 1.0}, 0, false},
		{"both_zero", []float64{0, 0}, 1e-6, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lossConverged(tt.history, tt.tol); got != tt.expected {
				t.Errorf("lossConverged(%v, %g) = %v, want %v", tt.history, tt.tol, got, tt.expected)
			}
		})
	}
}

func TestLossIncreased(t *testing.T) {
	assert.False(t, lossIncreased([]float64{1}))
	assert.False(t, lossIncreased([]float64{2, 1}))
	assert.True(t, lossIncreased([]float64{1, 2}))
}

func TestCheckFinite(t *testing.T) {
	assert.NoError(t, checkFinite("x", 1, 0.5, vector.Dense(1, 2)))
	assert.ErrorIs(t, checkFinite("x", 1, math.NaN()), ErrNonFinite)
	assert.ErrorIs(t, checkFinite("x", 1, math.Inf(1)), ErrNonFinite)
	assert.ErrorIs(t, checkFinite("x", 1, 0, vector.Dense(1, math.Inf(-1))), ErrNonFinite)
}

func TestFlatMean(t *testing.T) {
	s := Summary{Loss: 4, Gradient: vector.Dense(2, 6), GradIntercept: 8, Count: 2}

	loss, grad := flatMean(s, false)
	assert.Equal(t, 2.0, loss)
	assert.Equal(t, vector.Dense(1, 3), grad)

	loss, grad = flatMean(s, true)
	assert.Equal(t, 2.0, loss)
	assert.Equal(t, vector.Dense(1, 3, 4), grad)

	// Mean leaves the summary untouched.
	assert.Equal(t, vector.Dense(2, 6), s.Gradient)
}

func TestSummaryMerge(t *testing.T) {
	a := Summary{Loss: 1, Gradient: vector.Dense(1, 1), GradIntercept: 0.5, Count: 1}
	b := Summary{Loss: 2, Gradient: vector.Dense(2, 3), GradIntercept: 1, Count: 3}

	ab, ba := a.Merge(b), b.Merge(a)
	assert.Equal(t, ab, ba)
	assert.Equal(t, Summary{Loss: 3, Gradient: vector.Dense(3, 4), GradIntercept: 1.5, Count: 4}, ab)
	assert.Equal(t, vector.Dense(1, 1), a.Gradient)

	empty := Summary{}
	assert.Equal(t, a, empty.Merge(a))

	_, grad, _ := Summary{Gradient: vector.Dense(5)}.Mean()
	assert.Equal(t, vector.Dense(0), grad)

	msg := panicMessage(func() { a.Merge(Summary{Gradient: vector.Dense(1, 2, 3), Count: 1}) })
	assert.Contains(t, msg, "merge summaries")
	assert.Contains(t, msg, "2 != 3")
}

func TestAccumulatorPool(t *testing.T) {
	p := NewAccumulatorPool()

	buf := p.Get(4)
	require.Len(t, buf, 4)
	buf[0] = 3
	p.Put(buf)

	again := p.Get(4)
	assert.Equal(t, vector.Zeros(4), again, "recycled buffers are zeroed")

	stats := p.Stats()[4]
	assert.Equal(t, int64(2), stats.Gets)
	assert.Equal(t, int64(1), stats.Puts)
	assert.Equal(t, int64(1), stats.InUse)
	assert.Equal(t, int64(1), stats.MaxInUse)

	// Unknown sizes are dropped.
	p.Put(vector.Zeros(7))
	_, ok := p.Stats()[7]
	assert.False(t, ok)

	assert.Same(t, GlobalAccumulatorPool(), GlobalAccumulatorPool())
}
