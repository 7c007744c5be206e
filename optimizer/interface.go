// Package optimizer implements distributed first- and quasi-second-order
// minimization of generalized linear model losses. Every optimizer talks to
// the data through an Objective, whose Aggregator implementation scatters the
// current parameters to all partitions and tree-reduces the partial sums.
package optimizer

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/npanj/spark/vector"
)

var (
	// ErrInvalidConfig is returned for configuration rejected before the first iteration
	ErrInvalidConfig = errors.New("invalid optimizer configuration")

	// ErrNonFinite is returned when a loss, gradient or weight becomes NaN or Inf
	ErrNonFinite = errors.New("non-finite value during optimization")
)

// Optimizer defines the common contract of all optimization strategies. It
// receives the objective and the initial parameters and returns the final
// parameters. The initial vector is never modified.
type Optimizer interface {
	Optimize(ctx context.Context, obj Objective, initial vector.Vector) (*Result, error)

	// Name returns the optimizer name for logging
	Name() string
}

// Sample selects the records seen by one aggregation pass
type Sample struct {
	Fraction float64 // Bernoulli keep probability, 1 keeps every record
	Seed     int64
}

// FullSample visits every record
var FullSample = Sample{Fraction: 1.0}

// Objective sums per-example losses and gradients over a dataset.
// Params holds the weights followed, when Intercept reports true, by the
// intercept in the last slot.
type Objective interface {
	Aggregate(ctx context.Context, params vector.Vector, sample Sample) (Summary, error)
	Intercept() bool
}

// Stop reasons reported in Result.Reason
const (
	ReasonMaxIterations  = "max iterations"
	ReasonConverged      = "converged"
	ReasonLossIncreased  = "loss increased"
	ReasonLineSearchStop = "line search made no further progress"
)

// Result is the outcome of an optimization run
type Result struct {
	Weights     vector.Vector
	LossHistory []float64 // Objective value per iteration, oldest first
	Iterations  int
	Evaluations int // Aggregation passes over the data
	Converged   bool
	Reason      string
}

// FinalLoss returns the last recorded loss, or NaN when none was recorded
func (r *Result) FinalLoss() float64 {
	return lastLoss(r.LossHistory)
}

// IterationEvent describes one completed iteration
type IterationEvent struct {
	Optimizer string
	Iteration int
	Loss      float64
	GradNorm  float64
	StepSize  float64
	Examples  int64
	Duration  time.Duration
}

// Listener observes optimizer progress. OnIteration is called synchronously
// on the optimizer goroutine and must not retain the event's slices.
type Listener interface {
	OnIteration(event IterationEvent)
}

// ListenerFunc adapts a function to a Listener
type ListenerFunc func(event IterationEvent)

func (f ListenerFunc) OnIteration(event IterationEvent) { f(event) }

// MultiListener fans events out to several listeners in order
type MultiListener []Listener

func (m MultiListener) OnIteration(event IterationEvent) {
	for _, l := range m {
		if l != nil {
			l.OnIteration(event)
		}
	}
}

func notify(l Listener, event IterationEvent) {
	if l != nil {
		l.OnIteration(event)
	}
}
