// Package vector provides the dense feature vector and labeled example types
// shared by the optimizers and models.
package vector

import (
	"math"

	"github.com/cockroachdb/errors"
	"gonum.org/v1/gonum/floats"
)

// ErrDimensionMismatch is returned when two vectors that must share a
// dimension do not.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Vector is a dense vector of float64 values
type Vector []float64

// Zeros returns a zero vector of length n
func Zeros(n int) Vector {
	return make(Vector, n)
}

// Dense copies values into a new Vector
func Dense(values ...float64) Vector {
	v := make(Vector, len(values))
	copy(v, values)
	return v
}

// Len returns the dimension of the vector
func (v Vector) Len() int {
	return len(v)
}

// Copy returns a deep copy
func (v Vector) Copy() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Dot returns the inner product of v and o.
func (v Vector) Dot(o Vector) (float64, error) {
	if len(v) != len(o) {
		return 0, errors.Wrapf(ErrDimensionMismatch, "dot: %d != %d", len(v), len(o))
	}
	return floats.Dot(v, o), nil
}

// Axpy adds alpha*x to v in place. v must be owned by the caller.
func (v Vector) Axpy(alpha float64, x Vector) error {
	if len(v) != len(x) {
		return errors.Wrapf(ErrDimensionMismatch, "axpy: %d != %d", len(v), len(x))
	}
	floats.AddScaled(v, alpha, x)
	return nil
}

// Scale multiplies v by c in place.
func (v Vector) Scale(c float64) {
	floats.Scale(c, v)
}

// Norm2 returns the Euclidean norm.
func (v Vector) Norm2() float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, 2)
}

// Norm1 returns the sum of absolute values.
func (v Vector) Norm1() float64 {
	if len(v) == 0 {
		return 0
	}
	return floats.Norm(v, 1)
}

// IsFinite reports whether every element is neither NaN nor infinite.
func (v Vector) IsFinite() bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Equal reports whether v and o have the same length and identical elements.
func (v Vector) Equal(o Vector) bool {
	return floats.Equal(v, o)
}
