package optimizer

import (
	"fmt"
	"math"

	"github.com/cockroachdb/errors"

	"github.com/npanj/spark/vector"
)

// Common helpers shared by the optimization loops

// mustAxpy computes dst += alpha*x. A length mismatch is a programming error
// in the caller and panics.
func mustAxpy(op string, dst vector.Vector, alpha float64, x vector.Vector) {
	if err := dst.Axpy(alpha, x); err != nil {
		panic(fmt.Sprintf("%s: %v", op, err))
	}
}

// flatMean averages a summary into a loss and a gradient laid out like the
// parameter vector.
func flatMean(s Summary, intercept bool) (float64, vector.Vector) {
	loss, grad, gi := s.Mean()
	if !intercept {
		return loss, grad
	}
	flat := make(vector.Vector, len(grad)+1)
	copy(flat, grad)
	flat[len(grad)] = gi
	return loss, flat
}

// checkFinite reports ErrNonFinite when the loss or any vector entry is NaN or Inf
func checkFinite(what string, iter int, loss float64, vs ...vector.Vector) error {
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return errors.Wrapf(ErrNonFinite, "%s at iteration %d: loss is %v", what, iter, loss)
	}
	for _, v := range vs {
		if !v.IsFinite() {
			return errors.Wrapf(ErrNonFinite, "%s at iteration %d: vector has non-finite entries", what, iter)
		}
	}
	return nil
}

// relativeChange returns |prev-cur| / max(|prev|, |cur|, 1e-12)
func relativeChange(prev, cur float64) float64 {
	scale := math.Max(math.Max(math.Abs(prev), math.Abs(cur)), 1e-12)
	return math.Abs(prev-cur) / scale
}

// lossConverged reports whether the last two history entries differ by less
// than tol relative. A non-positive tol never converges.
func lossConverged(history []float64, tol float64) bool {
	if tol <= 0 || len(history) < 2 {
		return false
	}
	return relativeChange(history[len(history)-2], history[len(history)-1]) < tol
}

// lossIncreased reports whether the last history entry is above the previous one
func lossIncreased(history []float64) bool {
	n := len(history)
	return n >= 2 && history[n-1] > history[n-2]
}

func lastLoss(history []float64) float64 {
	if len(history) == 0 {
		return math.NaN()
	}
	return history[len(history)-1]
}
