package vector

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorOps(t *testing.T) {
	t.Run("Dot", func(t *testing.T) {
		d, err := Dense(1, 2, 3).Dot(Dense(4, 5, 6))
		require.NoError(t, err)
		assert.Equal(t, 32.0, d)
	})

	t.Run("Dot mismatch", func(t *testing.T) {
		_, err := Dense(1, 2).Dot(Dense(1))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrDimensionMismatch))
	})

	t.Run("Axpy", func(t *testing.T) {
		v := Dense(1, 1)
		require.NoError(t, v.Axpy(2, Dense(3, -1)))
		assert.Equal(t, Vector{7, -1}, v)
		assert.Error(t, v.Axpy(1, Dense(1, 2, 3)))
	})

	t.Run("Norms", func(t *testing.T) {
		v := Dense(3, -4)
		assert.InDelta(t, 5.0, v.Norm2(), 1e-12)
		assert.InDelta(t, 7.0, v.Norm1(), 1e-12)
		assert.Equal(t, 0.0, Vector(nil).Norm2())
	})

	t.Run("Copy does not alias", func(t *testing.T) {
		v := Dense(1, 2)
		c := v.Copy()
		c[0] = 10
		assert.Equal(t, 1.0, v[0])
		assert.Nil(t, Vector(nil).Copy())
	})

	t.Run("IsFinite", func(t *testing.T) {
		assert.True(t, Dense(1, 2).IsFinite())
		assert.False(t, Dense(1, math.NaN()).IsFinite())
		assert.False(t, Dense(math.Inf(-1)).IsFinite())
	})
}

func TestLabeledPointCopiesFeatures(t *testing.T) {
	raw := []float64{1, 2}
	p := NewLabeledPoint(1, raw...)
	raw[0] = 5

	assert.Equal(t, 1.0, p.Features[0])
	assert.Equal(t, 2, p.Dim())
	assert.Equal(t, "(1,[1 2])", p.String())
}
