package optimizer

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/npanj/spark/dataset"
	"github.com/npanj/spark/vector"
)

// Summary is the partial sum of losses and gradients over a set of records.
// Merging is associative and commutative.
type Summary struct {
	Loss          float64
	Gradient      vector.Vector // Length equals the number of features
	GradIntercept float64
	Count         int64
}

// Merge returns the sum of s and o without modifying either. Gradients of
// different lengths panic.
func (s Summary) Merge(o Summary) Summary {
	out := Summary{
		Loss:          s.Loss + o.Loss,
		GradIntercept: s.GradIntercept + o.GradIntercept,
		Count:         s.Count + o.Count,
	}
	switch {
	case s.Gradient == nil:
		out.Gradient = o.Gradient.Copy()
	case o.Gradient == nil:
		out.Gradient = s.Gradient.Copy()
	default:
		out.Gradient = s.Gradient.Copy()
		mustAxpy("merge summaries", out.Gradient, 1, o.Gradient)
	}
	return out
}

// Mean divides the sums by Count. An empty summary yields zeros.
func (s Summary) Mean() (loss float64, grad vector.Vector, gradIntercept float64) {
	grad = s.Gradient.Copy()
	if s.Count == 0 {
		clear(grad)
		return 0, grad, 0
	}
	n := float64(s.Count)
	grad.Scale(1 / n)
	return s.Loss / n, grad, s.GradIntercept / n
}

// Aggregator evaluates the summed loss and gradient of a loss kind over a
// partitioned dataset. Each call ships one encoded Task to every partition;
// records never leave their partition.
type Aggregator struct {
	data        dataset.Collection[vector.LabeledPoint]
	kind        LossKind
	numFeatures int
	intercept   bool
	exec        *dataset.Executor
	pool        *AccumulatorPool
	logger      *zap.Logger
}

// NewAggregator creates an aggregator. A nil executor uses the default one.
func NewAggregator(data dataset.Collection[vector.LabeledPoint], kind LossKind, numFeatures int, intercept bool, exec *dataset.Executor) *Aggregator {
	if exec == nil {
		exec = dataset.DefaultExecutor()
	}
	return &Aggregator{
		data:        data,
		kind:        kind,
		numFeatures: numFeatures,
		intercept:   intercept,
		exec:        exec,
		pool:        GlobalAccumulatorPool(),
		logger:      zap.NewNop(),
	}
}

// WithLogger sets the logger used for per-pass debug output
func (a *Aggregator) WithLogger(logger *zap.Logger) *Aggregator {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// Intercept reports whether the last parameter slot is the intercept
func (a *Aggregator) Intercept() bool {
	return a.intercept
}

// NumParams returns the expected parameter vector length
func (a *Aggregator) NumParams() int {
	if a.intercept {
		return a.numFeatures + 1
	}
	return a.numFeatures
}

// Executor returns the executor the aggregator ships tasks to
func (a *Aggregator) Executor() *dataset.Executor {
	return a.exec
}

// Aggregate runs one pass over the sampled records with the given parameters
func (a *Aggregator) Aggregate(ctx context.Context, params vector.Vector, sample Sample) (Summary, error) {
	if len(params) != a.NumParams() {
		return Summary{}, errors.Wrapf(vector.ErrDimensionMismatch,
			"aggregate: got %d parameters, want %d", len(params), a.NumParams())
	}

	payload := Task{
		Params:    params,
		Loss:      a.kind,
		Intercept: a.intercept,
		Fraction:  sample.Fraction,
		Seed:      sample.Seed,
	}.Marshal()

	partials, err := dataset.MapPartitions(ctx, a.exec, a.data, payload, a.foldPartition)
	if err != nil {
		return Summary{}, errors.Wrap(err, "aggregate")
	}

	total, ok := dataset.TreeReduce(partials, Summary.Merge)
	if !ok {
		total = Summary{Gradient: vector.Zeros(a.numFeatures)}
	}
	a.logger.Debug("aggregation pass",
		zap.Int("partitions", len(partials)),
		zap.Int("payload_bytes", len(payload)),
		zap.Int64("examples", total.Count))
	return total, nil
}

// foldPartition runs on the worker side. It sees only the decoded payload and
// its own partition.
func (a *Aggregator) foldPartition(_ context.Context, payload []byte, part dataset.Partition[vector.LabeledPoint]) (Summary, error) {
	task, err := UnmarshalTask(payload)
	if err != nil {
		return Summary{}, err
	}
	grad, err := GradientFor(task.Loss)
	if err != nil {
		return Summary{}, err
	}

	d := len(task.Params)
	intercept := 0.0
	if task.Intercept {
		d--
		intercept = task.Params[d]
	}
	weights := task.Params[:d]

	acc := a.pool.Get(d)
	defer a.pool.Put(acc)

	sampler := dataset.NewSampler(task.Fraction, task.Seed, part.Index())
	var s Summary
	err = part.ForEach(func(lp vector.LabeledPoint) error {
		if !sampler.Keep() {
			return nil
		}
		if len(lp.Features) != d {
			return errors.Wrapf(vector.ErrDimensionMismatch, "record has %d features, want %d", len(lp.Features), d)
		}
		if !lp.Features.IsFinite() {
			return errors.Wrapf(ErrNonFinite, "record with label %g has non-finite features", lp.Label)
		}
		loss, gi := grad.ComputeInto(lp.Features, lp.Label, weights, intercept, acc)
		s.Loss += loss
		s.GradIntercept += gi
		s.Count++
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	if !task.Intercept {
		s.GradIntercept = 0
	}
	s.Gradient = acc.Copy()
	return s, nil
}
