package classification

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/npanj/spark/dataset"
	"github.com/npanj/spark/optimizer"
	"github.com/npanj/spark/vector"
)

// GeneralizedLinearAlgorithm validates a training set, runs an optimizer
// over the chosen loss and wraps the resulting parameters in a model. With
// an intercept the optimizer sees one extra trailing parameter; the data is
// never augmented or copied.
type GeneralizedLinearAlgorithm struct {
	Optimizer  optimizer.Optimizer
	Loss       optimizer.LossKind
	Intercept  bool
	Validators []Validator
	Executor   *dataset.Executor
	Logger     *zap.Logger
}

// Run trains a model. initial may be nil (all zeros), have one entry per
// feature, or, with an intercept, one more entry holding the intercept.
func (a *GeneralizedLinearAlgorithm) Run(ctx context.Context, data dataset.Collection[vector.LabeledPoint], initial vector.Vector) (*LogisticRegressionModel, *optimizer.Result, error) {
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if a.Optimizer == nil {
		return nil, nil, errors.Wrap(optimizer.ErrInvalidConfig, "no optimizer configured")
	}
	if data == nil {
		return nil, nil, invalid("data", "training data is nil")
	}

	d, ok := firstDimension(data)
	if !ok {
		return nil, nil, invalid("data", "training data is empty")
	}
	if d == 0 {
		return nil, nil, invalid("features", "records have no features")
	}

	params, err := a.initialParams(initial, d)
	if err != nil {
		return nil, nil, err
	}

	validators := a.Validators
	if validators == nil {
		validators = []Validator{DimensionValidator{NumFeatures: d}, BinaryLabelValidator{}}
	}
	for _, v := range validators {
		if err := v.Validate(ctx, a.Executor, data); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return nil, nil, ve
			}
			return nil, nil, err
		}
	}

	logger.Info("training generalized linear model",
		zap.String("optimizer", a.Optimizer.Name()),
		zap.Stringer("loss", a.Loss),
		zap.Int("features", d),
		zap.Bool("intercept", a.Intercept),
		zap.Int("partitions", data.NumPartitions()))

	agg := optimizer.NewAggregator(data, a.Loss, d, a.Intercept, a.Executor).WithLogger(logger)
	result, err := a.Optimizer.Optimize(ctx, agg, params)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "%s optimization", a.Optimizer.Name())
	}

	weights, intercept := result.Weights, 0.0
	if a.Intercept {
		intercept = weights[d]
		weights = weights[:d]
	}
	model := NewLogisticRegressionModel(weights, intercept)

	logger.Info("optimization finished",
		zap.Int("iterations", result.Iterations),
		zap.Bool("converged", result.Converged),
		zap.Float64("final_loss", result.FinalLoss()),
		zap.Float64("intercept", intercept))
	return model, result, nil
}

func (a *GeneralizedLinearAlgorithm) initialParams(initial vector.Vector, d int) (vector.Vector, error) {
	size := d
	if a.Intercept {
		size++
	}
	if !initial.IsFinite() {
		return nil, invalid("initial weights", "contains NaN or Inf")
	}
	switch {
	case initial == nil:
		return vector.Zeros(size), nil
	case len(initial) == size:
		return initial.Copy(), nil
	case a.Intercept && len(initial) == d:
		params := vector.Zeros(size)
		copy(params, initial)
		return params, nil
	default:
		return nil, invalid("initial weights", "got %d values for %d features", len(initial), d)
	}
}
