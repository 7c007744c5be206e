package optimizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npanj/spark/vector"
)

func TestLogisticGradient(t *testing.T) {
	g := LogisticGradient{}

	tests := []struct {
		name      string
		features  vector.Vector
		label     float64
		weights   vector.Vector
		intercept float64
		wantLoss  float64
		wantMult  float64 // sigmoid(margin) - label
	}{
		{
			name:     "zero_margin_positive",
			features: vector.Dense(1, 2),
			label:    1,
			weights:  vector.Dense(0, 0),
			wantLoss: math.Log(2),
			wantMult: -0.5,
		},
		{
			name:     "zero_margin_negative",
			features: vector.Dense(1, 2),
			label:    0,
			weights:  vector.Dense(0, 0),
			wantLoss: math.Log(2),
			wantMult: 0.5,
		},
		{
			name:      "with_intercept",
			features:  vector.Dense(1),
			label:     1,
			weights:   vector.Dense(1),
			intercept: 1,
			wantLoss:  math.Log1p(math.Exp(-2)),
			wantMult:  1/(1+math.Exp(-2)) - 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loss, grad, gi := g.Compute(tt.features, tt.label, tt.weights, tt.intercept)
			assert.InDelta(t, tt.wantLoss, loss, 1e-12)
			assert.InDelta(t, tt.wantMult, gi, 1e-12)
			for i, x := range tt.features {
				assert.InDelta(t, tt.wantMult*x, grad[i], 1e-12)
			}
		})
	}
}

func TestLogisticLossIsStable(t *testing.T) {
	g := LogisticGradient{}

	// Margins far beyond exp overflow must stay finite and accurate.
	loss, _, gi := g.Compute(vector.Dense(1000), 0, vector.Dense(1), 0)
	assert.InDelta(t, 1000, loss, 1e-9)
	assert.InDelta(t, 1, gi, 1e-12)

	loss, _, gi = g.Compute(vector.Dense(1000), 1, vector.Dense(1), 0)
	assert.InDelta(t, 0, loss, 1e-12)
	assert.InDelta(t, 0, gi, 1e-12)

	loss, _, _ = g.Compute(vector.Dense(-1000), 1, vector.Dense(1), 0)
	assert.InDelta(t, 1000, loss, 1e-9)
	assert.False(t, math.IsInf(loss, 0))
}

func TestComputeIntoAccumulates(t *testing.T) {
	for _, kind := range []LossKind{LossLogistic, LossLeastSquares, LossHinge} {
		t.Run(kind.String(), func(t *testing.T) {
			g, err := GradientFor(kind)
			require.NoError(t, err)
			assert.Equal(t, kind, g.Kind())

			w := vector.Dense(0.3, -0.2)
			x1, x2 := vector.Dense(1, 2), vector.Dense(-1, 0.5)

			l1, g1, i1 := g.Compute(x1, 1, w, 0.1)
			l2, g2, i2 := g.Compute(x2, 0, w, 0.1)

			acc := vector.Zeros(2)
			la, ia := g.ComputeInto(x1, 1, w, 0.1, acc)
			lb, ib := g.ComputeInto(x2, 0, w, 0.1, acc)

			assert.InDelta(t, l1+l2, la+lb, 1e-12)
			assert.InDelta(t, i1+i2, ia+ib, 1e-12)
			assert.InDelta(t, g1[0]+g2[0], acc[0], 1e-12)
			assert.InDelta(t, g1[1]+g2[1], acc[1], 1e-12)
		})
	}
}

func TestLeastSquaresGradient(t *testing.T) {
	loss, grad, gi := LeastSquaresGradient{}.Compute(vector.Dense(2), 1, vector.Dense(1), 0.5)
	// residual = 2 + 0.5 - 1 = 1.5
	assert.InDelta(t, 0.5*1.5*1.5, loss, 1e-12)
	assert.InDelta(t, 3.0, grad[0], 1e-12)
	assert.InDelta(t, 1.5, gi, 1e-12)
}

func TestHingeGradient(t *testing.T) {
	g := HingeGradient{}

	t.Run("inside_margin", func(t *testing.T) {
		loss, grad, gi := g.Compute(vector.Dense(0.5), 1, vector.Dense(1), 0)
		assert.InDelta(t, 0.5, loss, 1e-12)
		assert.InDelta(t, -0.5, grad[0], 1e-12)
		assert.InDelta(t, -1, gi, 1e-12)
	})

	t.Run("outside_margin", func(t *testing.T) {
		loss, grad, gi := g.Compute(vector.Dense(-2), 0, vector.Dense(1), 0)
		assert.Equal(t, 0.0, loss)
		assert.Equal(t, 0.0, grad[0])
		assert.Equal(t, 0.0, gi)
	})
}

func TestGradientForUnknown(t *testing.T) {
	_, err := GradientFor(LossKind(99))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, "unknown", LossKind(99).String())
}
