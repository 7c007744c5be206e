package optimizer

import (
	"math"

	"github.com/cockroachdb/errors"

	"github.com/npanj/spark/vector"
)

// LossKind selects a per-example loss. It travels inside task payloads so
// workers can resolve the gradient without shipping code.
type LossKind int32

const (
	LossLogistic LossKind = iota + 1
	LossLeastSquares
	LossHinge
)

func (k LossKind) String() string {
	switch k {
	case LossLogistic:
		return "logistic"
	case LossLeastSquares:
		return "least_squares"
	case LossHinge:
		return "hinge"
	default:
		return "unknown"
	}
}

// Gradient computes the loss and gradient of a single example.
// Implementations are pure and safe for concurrent use.
type Gradient interface {
	// Compute returns the loss, a freshly allocated weight gradient and the
	// intercept gradient.
	Compute(features vector.Vector, label float64, weights vector.Vector, intercept float64) (loss float64, grad vector.Vector, gradIntercept float64)

	// ComputeInto adds the weight gradient into cumGrad and returns the loss
	// and intercept gradient. It does not allocate.
	ComputeInto(features vector.Vector, label float64, weights vector.Vector, intercept float64, cumGrad vector.Vector) (loss float64, gradIntercept float64)

	// Kind identifies the loss
	Kind() LossKind
}

// GradientFor resolves a loss kind to its gradient
func GradientFor(kind LossKind) (Gradient, error) {
	switch kind {
	case LossLogistic:
		return LogisticGradient{}, nil
	case LossLeastSquares:
		return LeastSquaresGradient{}, nil
	case LossHinge:
		return HingeGradient{}, nil
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown loss kind %d", kind)
	}
}

func computeAlloc(g Gradient, features vector.Vector, label float64, weights vector.Vector, intercept float64) (float64, vector.Vector, float64) {
	grad := vector.Zeros(len(weights))
	loss, gi := g.ComputeInto(features, label, weights, intercept, grad)
	return loss, grad, gi
}

func margin(features, weights vector.Vector, intercept float64) float64 {
	m := intercept
	for i, x := range features {
		m += weights[i] * x
	}
	return m
}

// log1pExp returns log(1 + exp(m)) without overflow for large |m|
func log1pExp(m float64) float64 {
	if m > 0 {
		return m + math.Log1p(math.Exp(-m))
	}
	return math.Log1p(math.Exp(m))
}

func sigmoid(m float64) float64 {
	if m >= 0 {
		return 1.0 / (1.0 + math.Exp(-m))
	}
	e := math.Exp(m)
	return e / (1.0 + e)
}

// LogisticGradient is the binary log-loss gradient for labels in {0, 1}
type LogisticGradient struct{}

func (g LogisticGradient) Kind() LossKind { return LossLogistic }

func (g LogisticGradient) Compute(features vector.Vector, label float64, weights vector.Vector, intercept float64) (float64, vector.Vector, float64) {
	return computeAlloc(g, features, label, weights, intercept)
}

func (g LogisticGradient) ComputeInto(features vector.Vector, label float64, weights vector.Vector, intercept float64, cumGrad vector.Vector) (float64, float64) {
	m := margin(features, weights, intercept)
	mult := sigmoid(m) - label
	for i, x := range features {
		cumGrad[i] += mult * x
	}
	return log1pExp(m) - label*m, mult
}

// LeastSquaresGradient is the squared-error gradient, loss 1/2 (w.x+b-y)^2
type LeastSquaresGradient struct{}

func (g LeastSquaresGradient) Kind() LossKind { return LossLeastSquares }

func (g LeastSquaresGradient) Compute(features vector.Vector, label float64, weights vector.Vector, intercept float64) (float64, vector.Vector, float64) {
	return computeAlloc(g, features, label, weights, intercept)
}

func (g LeastSquaresGradient) ComputeInto(features vector.Vector, label float64, weights vector.Vector, intercept float64, cumGrad vector.Vector) (float64, float64) {
	diff := margin(features, weights, intercept) - label
	for i, x := range features {
		cumGrad[i] += diff * x
	}
	return 0.5 * diff * diff, diff
}

// HingeGradient is the SVM hinge loss. Labels {0, 1} are mapped to {-1, +1}.
type HingeGradient struct{}

func (g HingeGradient) Kind() LossKind { return LossHinge }

func (g HingeGradient) Compute(features vector.Vector, label float64, weights vector.Vector, intercept float64) (float64, vector.Vector, float64) {
	return computeAlloc(g, features, label, weights, intercept)
}

func (g HingeGradient) ComputeInto(features vector.Vector, label float64, weights vector.Vector, intercept float64, cumGrad vector.Vector) (float64, float64) {
	y := 2*label - 1
	m := margin(features, weights, intercept)
	if 1-y*m <= 0 {
		return 0, 0
	}
	for i, x := range features {
		cumGrad[i] -= y * x
	}
	return 1 - y*m, -y
}
