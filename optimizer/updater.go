package optimizer

import (
	"math"

	"github.com/npanj/spark/vector"
)

// Updater turns the averaged gradient into the next weight vector and reports
// the regularization value of the result. Compute never modifies weightsOld
// and always returns a new slice. The built-in updaters panic when gradient
// and weightsOld differ in length.
type Updater interface {
	Compute(weightsOld, gradient vector.Vector, stepSize float64, iter int, regParam float64) (weightsNew vector.Vector, regVal float64)
}

func effectiveStep(s StepSchedule, base float64, iter int) float64 {
	if s == nil {
		s = InverseSqrtSchedule{}
	}
	return s.StepSize(base, iter)
}

// regularized returns the number of leading slots subject to regularization
func regularized(w vector.Vector, excludeLast bool) int {
	if excludeLast && len(w) > 0 {
		return len(w) - 1
	}
	return len(w)
}

// SimpleUpdater is a plain gradient step without regularization
type SimpleUpdater struct {
	Schedule StepSchedule // nil means InverseSqrtSchedule
}

func (u SimpleUpdater) Compute(weightsOld, gradient vector.Vector, stepSize float64, iter int, _ float64) (vector.Vector, float64) {
	eta := effectiveStep(u.Schedule, stepSize, iter)
	w := weightsOld.Copy()
	mustAxpy("simple updater", w, -eta, gradient)
	return w, 0
}

// SquaredL2Updater applies L2 shrinkage followed by the gradient step.
// regVal is regParam/2 * ||w'||^2.
type SquaredL2Updater struct {
	Schedule StepSchedule // nil means InverseSqrtSchedule

	// ExcludeLast leaves the last slot (the intercept) unregularized
	ExcludeLast bool
}

func (u SquaredL2Updater) Compute(weightsOld, gradient vector.Vector, stepSize float64, iter int, regParam float64) (vector.Vector, float64) {
	eta := effectiveStep(u.Schedule, stepSize, iter)
	n := regularized(weightsOld, u.ExcludeLast)

	w := weightsOld.Copy()
	shrink := 1.0 - eta*regParam
	for i := 0; i < n; i++ {
		w[i] *= shrink
	}
	mustAxpy("squared l2 updater", w, -eta, gradient)

	norm := vector.Vector(w[:n]).Norm2()
	return w, 0.5 * regParam * norm * norm
}

// L1Updater takes the gradient step and then soft-thresholds each weight by
// stepSize*regParam. regVal is regParam * ||w'||_1.
type L1Updater struct {
	Schedule    StepSchedule // nil means InverseSqrtSchedule
	ExcludeLast bool
}

func (u L1Updater) Compute(weightsOld, gradient vector.Vector, stepSize float64, iter int, regParam float64) (vector.Vector, float64) {
	eta := effectiveStep(u.Schedule, stepSize, iter)
	n := regularized(weightsOld, u.ExcludeLast)

	w := weightsOld.Copy()
	mustAxpy("l1 updater", w, -eta, gradient)

	shrinkage := eta * regParam
	for i := 0; i < n; i++ {
		w[i] = math.Copysign(math.Max(0, math.Abs(w[i])-shrinkage), w[i])
	}
	return w, regParam * vector.Vector(w[:n]).Norm1()
}

// WithExcludeLast returns u configured to skip the intercept slot, for the
// updaters that regularize.
func WithExcludeLast(u Updater, exclude bool) Updater {
	switch v := u.(type) {
	case SquaredL2Updater:
		v.ExcludeLast = exclude
		return v
	case L1Updater:
		v.ExcludeLast = exclude
		return v
	default:
		return u
	}
}

// regularization evaluates the value and gradient of the updater's
// regularizer at w through the Compute contract.
func regularization(u Updater, w vector.Vector, regParam float64) (float64, vector.Vector) {
	zero := vector.Zeros(len(w))
	_, regVal := u.Compute(w, zero, 0, 1, regParam)
	shrunk, _ := u.Compute(w, zero, 1, 1, regParam)

	grad := w.Copy()
	mustAxpy("regularization", grad, -1, shrunk)
	return regVal, grad
}

// UpdaterByName returns a built-in updater by its config name: "simple",
// "l2" or "l1". The schedule may be nil.
func UpdaterByName(name string, schedule StepSchedule) (Updater, bool) {
	switch name {
	case "", "simple":
		return SimpleUpdater{Schedule: schedule}, true
	case "l2", "squared_l2":
		return SquaredL2Updater{Schedule: schedule}, true
	case "l1":
		return L1Updater{Schedule: schedule}, true
	default:
		return nil, false
	}
}
