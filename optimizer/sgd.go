package optimizer

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/npanj/spark/vector"
)

// SGDConfig holds configuration for mini-batch gradient descent
type SGDConfig struct {
	StepSize          float64
	NumIterations     int
	RegParam          float64
	MiniBatchFraction float64 // Fraction of records sampled per iteration, in (0, 1]

	// ConvergenceTol stops the run once the relative change of the loss
	// between iterations falls below it. Zero disables the check.
	ConvergenceTol     float64
	StopOnLossIncrease bool
	Seed               int64

	Updater  Updater
	Schedule StepSchedule // Applied to the built-in updaters when they have none
	Logger   *zap.Logger
	Listener Listener
}

// DefaultSGDConfig returns default SGD configuration
func DefaultSGDConfig() SGDConfig {
	return SGDConfig{
		StepSize:          1.0,
		NumIterations:     100,
		RegParam:          0.0,
		MiniBatchFraction: 1.0,
		ConvergenceTol:    1e-6,
		Seed:              42,
		Updater:           SimpleUpdater{},
		Schedule:          InverseSqrtSchedule{},
	}
}

// Validate checks the configuration
func (c SGDConfig) Validate() error {
	if c.StepSize <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "step size must be positive, got %g", c.StepSize)
	}
	if c.NumIterations <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "number of iterations must be positive, got %d", c.NumIterations)
	}
	if c.RegParam < 0 {
		return errors.Wrapf(ErrInvalidConfig, "regularization parameter cannot be negative: %g", c.RegParam)
	}
	if c.MiniBatchFraction <= 0 || c.MiniBatchFraction > 1 {
		return errors.Wrapf(ErrInvalidConfig, "mini-batch fraction must be in (0, 1], got %g", c.MiniBatchFraction)
	}
	if c.ConvergenceTol < 0 {
		return errors.Wrapf(ErrInvalidConfig, "convergence tolerance cannot be negative: %g", c.ConvergenceTol)
	}
	if c.Updater == nil {
		return errors.Wrap(ErrInvalidConfig, "updater is required")
	}
	return nil
}

// GradientDescent runs synchronous mini-batch SGD. Every iteration makes
// exactly one aggregation pass and one updater call.
type GradientDescent struct {
	config SGDConfig
	logger *zap.Logger
}

// NewGradientDescent creates an SGD optimizer
func NewGradientDescent(config SGDConfig) (*GradientDescent, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.Updater = WithSchedule(config.Updater, config.Schedule)
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GradientDescent{config: config, logger: logger.Named("sgd")}, nil
}

// Config returns the optimizer configuration
func (g *GradientDescent) Config() SGDConfig {
	return g.config
}

func (g *GradientDescent) Name() string {
	return "SGD"
}

// Optimize runs up to NumIterations iterations from initial
func (g *GradientDescent) Optimize(ctx context.Context, obj Objective, initial vector.Vector) (*Result, error) {
	cfg := g.config
	intercept := obj.Intercept()

	schedule := updaterSchedule(cfg.Updater)
	if schedule == nil {
		schedule = cfg.Schedule
	}

	weights := initial.Copy()
	// Regularization of the starting point, charged to the first loss entry.
	_, regVal := cfg.Updater.Compute(weights, vector.Zeros(len(weights)), 0, 1, cfg.RegParam)

	result := &Result{
		LossHistory: make([]float64, 0, cfg.NumIterations),
		Reason:      ReasonMaxIterations,
	}

	g.logger.Info("starting gradient descent",
		zap.Int("params", len(weights)),
		zap.Int("iterations", cfg.NumIterations),
		zap.Float64("step_size", cfg.StepSize),
		zap.Float64("mini_batch_fraction", cfg.MiniBatchFraction),
		zap.Float64("reg_param", cfg.RegParam))

	for i := 1; i <= cfg.NumIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrapf(err, "sgd iteration %d", i)
		}
		start := time.Now()

		sum, err := obj.Aggregate(ctx, weights, Sample{Fraction: cfg.MiniBatchFraction, Seed: cfg.Seed + int64(i)})
		result.Evaluations++
		if err != nil {
			return nil, errors.Wrapf(err, "sgd iteration %d", i)
		}
		result.Iterations = i

		if sum.Count == 0 {
			g.logger.Warn("mini-batch sample is empty, skipping update",
				zap.Int("iteration", i),
				zap.Float64("fraction", cfg.MiniBatchFraction))
			continue
		}

		loss, grad := flatMean(sum, intercept)
		if err := checkFinite("sgd gradient", i, loss, grad); err != nil {
			return nil, err
		}
		result.LossHistory = append(result.LossHistory, loss+regVal)

		next, nextReg := cfg.Updater.Compute(weights, grad, cfg.StepSize, i, cfg.RegParam)
		if err := checkFinite("sgd update", i, nextReg, next); err != nil {
			return nil, err
		}
		weights, regVal = next, nextReg

		elapsed := time.Since(start)
		event := IterationEvent{
			Optimizer: g.Name(),
			Iteration: i,
			Loss:      lastLoss(result.LossHistory),
			GradNorm:  grad.Norm2(),
			StepSize:  effectiveStep(schedule, cfg.StepSize, i),
			Examples:  sum.Count,
			Duration:  elapsed,
		}
		notify(cfg.Listener, event)
		g.logger.Debug("iteration",
			zap.Int("iteration", i),
			zap.Float64("loss", event.Loss),
			zap.Float64("grad_norm", event.GradNorm),
			zap.Int64("examples", sum.Count),
			zap.Duration("elapsed", elapsed))

		if lossConverged(result.LossHistory, cfg.ConvergenceTol) {
			result.Converged = true
			result.Reason = ReasonConverged
			break
		}
		if cfg.StopOnLossIncrease && lossIncreased(result.LossHistory) {
			result.Reason = ReasonLossIncreased
			break
		}
	}

	result.Weights = weights
	g.logger.Info("gradient descent finished",
		zap.Int("iterations", result.Iterations),
		zap.Float64("final_loss", result.FinalLoss()),
		zap.String("reason", result.Reason))
	return result, nil
}

// updaterSchedule returns the schedule a built-in updater steps with, or nil
// for other updaters.
func updaterSchedule(u Updater) StepSchedule {
	switch v := u.(type) {
	case SimpleUpdater:
		return v.Schedule
	case SquaredL2Updater:
		return v.Schedule
	case L1Updater:
		return v.Schedule
	default:
		return nil
	}
}

// WithSchedule returns u using schedule s when u is one of the built-in
// updaters without a schedule of its own.
func WithSchedule(u Updater, s StepSchedule) Updater {
	if s == nil {
		return u
	}
	switch v := u.(type) {
	case SimpleUpdater:
		if v.Schedule == nil {
			v.Schedule = s
		}
		return v
	case SquaredL2Updater:
		if v.Schedule == nil {
			v.Schedule = s
		}
		return v
	case L1Updater:
		if v.Schedule == nil {
			v.Schedule = s
		}
		return v
	default:
		return u
	}
}
