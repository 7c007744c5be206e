package optimizer

import (
	"math"
)

// StepSchedule maps the base step size and 1-based iteration to the step
// actually applied. Schedules are stateless.
type StepSchedule interface {
	StepSize(base float64, iter int) float64
	Name() string
}

// InverseSqrtSchedule decays the step as base/sqrt(iter)
type InverseSqrtSchedule struct{}

func (InverseSqrtSchedule) StepSize(base float64, iter int) float64 {
	if iter < 1 {
		iter = 1
	}
	return base / math.Sqrt(float64(iter))
}

func (InverseSqrtSchedule) Name() string {
	return "InverseSqrt"
}

// ConstantSchedule always applies the base step
type ConstantSchedule struct{}

func (ConstantSchedule) StepSize(base float64, _ int) float64 {
	return base
}

func (ConstantSchedule) Name() string {
	return "Constant"
}

// ExponentialSchedule multiplies the step by Gamma every iteration
type ExponentialSchedule struct {
	Gamma float64 // Multiplicative decay per iteration
}

// NewExponentialSchedule creates an exponential schedule
func NewExponentialSchedule(gamma float64) ExponentialSchedule {
	if gamma <= 0 || gamma > 1 {
		gamma = 0.95 // Default: 5% reduction per iteration
	}
	return ExponentialSchedule{Gamma: gamma}
}

func (s ExponentialSchedule) StepSize(base float64, iter int) float64 {
	if iter < 1 {
		iter = 1
	}
	return base * math.Pow(s.Gamma, float64(iter-1))
}

func (s ExponentialSchedule) Name() string {
	return "Exponential"
}

// ScheduleByName resolves a schedule from its configuration name
func ScheduleByName(name string, gamma float64) (StepSchedule, bool) {
	switch name {
	case "", "inverse_sqrt", "InverseSqrt":
		return InverseSqrtSchedule{}, true
	case "constant", "Constant":
		return ConstantSchedule{}, true
	case "exponential", "Exponential":
		return NewExponentialSchedule(gamma), true
	default:
		return nil, false
	}
}
