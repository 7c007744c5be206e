package classification

import (
	"context"

	"go.uber.org/zap"

	"github.com/npanj/spark/dataset"
	"github.com/npanj/spark/optimizer"
	"github.com/npanj/spark/vector"
)

type trainSettings struct {
	sgd        optimizer.SGDConfig
	lbfgs      optimizer.LBFGSConfig
	updaterSet bool
	intercept  *bool
	initial    vector.Vector
	exec       *dataset.Executor
	logger     *zap.Logger
	listener   optimizer.Listener
}

// Option configures a logistic regression trainer
type Option func(*trainSettings)

// WithMiniBatchFraction sets the fraction of records sampled per SGD iteration
func WithMiniBatchFraction(fraction float64) Option {
	return func(s *trainSettings) { s.sgd.MiniBatchFraction = fraction }
}

// WithRegParam sets the regularization strength for either optimizer. An
// SGD trainer without an explicit updater regularizes with SquaredL2Updater
// when regParam is positive.
func WithRegParam(regParam float64) Option {
	return func(s *trainSettings) {
		s.sgd.RegParam = regParam
		s.lbfgs.RegParam = regParam
	}
}

// WithUpdater replaces the default updater of either optimizer
func WithUpdater(u optimizer.Updater) Option {
	return func(s *trainSettings) {
		s.sgd.Updater = u
		s.lbfgs.Updater = u
		s.updaterSet = true
	}
}

// WithSchedule sets the SGD step schedule
func WithSchedule(schedule optimizer.StepSchedule) Option {
	return func(s *trainSettings) { s.sgd.Schedule = schedule }
}

// WithInitialWeights starts optimization from weights instead of zeros
func WithInitialWeights(weights vector.Vector) Option {
	return func(s *trainSettings) { s.initial = weights.Copy() }
}

// WithIntercept toggles fitting an intercept
func WithIntercept(on bool) Option {
	return func(s *trainSettings) { s.intercept = &on }
}

// WithSeed sets the mini-batch sampling seed
func WithSeed(seed int64) Option {
	return func(s *trainSettings) { s.sgd.Seed = seed }
}

// WithExecutor runs partition tasks on exec instead of the default executor
func WithExecutor(exec *dataset.Executor) Option {
	return func(s *trainSettings) { s.exec = exec }
}

// WithLogger sets the training logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *trainSettings) { s.logger = logger }
}

// WithListener receives per-iteration events
func WithListener(l optimizer.Listener) Option {
	return func(s *trainSettings) { s.listener = l }
}

// WithConvergenceTol sets the relative loss change that ends training
func WithConvergenceTol(tol float64) Option {
	return func(s *trainSettings) {
		s.sgd.ConvergenceTol = tol
		s.lbfgs.ConvergenceTol = tol
	}
}

// WithStopOnLossIncrease stops SGD the first time the loss goes up
func WithStopOnLossIncrease(on bool) Option {
	return func(s *trainSettings) { s.sgd.StopOnLossIncrease = on }
}

// WithNumCorrections sets the L-BFGS history size
func WithNumCorrections(n int) Option {
	return func(s *trainSettings) { s.lbfgs.NumCorrections = n }
}

// WithMaxIterations caps L-BFGS major iterations
func WithMaxIterations(n int) Option {
	return func(s *trainSettings) { s.lbfgs.MaxIterations = n }
}

// WithMaxEvaluations caps L-BFGS passes over the data
func WithMaxEvaluations(n int) Option {
	return func(s *trainSettings) { s.lbfgs.MaxEvaluations = n }
}

func newSettings(opts []Option) *trainSettings {
	s := &trainSettings{
		sgd:   optimizer.DefaultSGDConfig(),
		lbfgs: optimizer.DefaultLBFGSConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.sgd.Logger, s.lbfgs.Logger = s.logger, s.logger
	s.sgd.Listener, s.lbfgs.Listener = s.listener, s.listener
	return s
}

func (s *trainSettings) useIntercept(def bool) bool {
	if s.intercept != nil {
		return *s.intercept
	}
	return def
}

// LogisticRegressionWithSGD trains logistic regression with mini-batch
// gradient descent. The intercept is off unless WithIntercept(true) is set.
type LogisticRegressionWithSGD struct {
	settings *trainSettings
}

// NewLogisticRegressionWithSGD creates an SGD trainer
func NewLogisticRegressionWithSGD(numIterations int, stepSize float64, opts ...Option) *LogisticRegressionWithSGD {
	s := newSettings(opts)
	s.sgd.NumIterations = numIterations
	s.sgd.StepSize = stepSize
	return &LogisticRegressionWithSGD{settings: s}
}

// Run validates data and trains a model
func (l *LogisticRegressionWithSGD) Run(ctx context.Context, data dataset.Collection[vector.LabeledPoint]) (*LogisticRegressionModel, *optimizer.Result, error) {
	s := l.settings
	intercept := s.useIntercept(false)

	cfg := s.sgd
	if cfg.RegParam > 0 {
		if simple, plain := cfg.Updater.(optimizer.SimpleUpdater); plain {
			if s.updaterSet {
				return nil, nil, invalid("reg param", "SimpleUpdater does not regularize, got reg param %g", cfg.RegParam)
			}
			cfg.Updater = optimizer.SquaredL2Updater{Schedule: simple.Schedule}
		}
	}
	cfg.Updater = optimizer.WithExcludeLast(cfg.Updater, intercept)
	if err := cfg.Validate(); err != nil {
		return nil, nil, invalid("sgd config", "%s", err.Error())
	}
	sgd, err := optimizer.NewGradientDescent(cfg)
	if err != nil {
		return nil, nil, err
	}

	alg := &GeneralizedLinearAlgorithm{
		Optimizer: sgd,
		Loss:      optimizer.LossLogistic,
		Intercept: intercept,
		Executor:  s.exec,
		Logger:    s.logger,
	}
	return alg.Run(ctx, data, s.initial)
}

// LogisticRegressionWithLBFGS trains logistic regression with L-BFGS and L2
// regularization. The intercept is on unless WithIntercept(false) is set.
type LogisticRegressionWithLBFGS struct {
	settings *trainSettings
}

// NewLogisticRegressionWithLBFGS creates an L-BFGS trainer
func NewLogisticRegressionWithLBFGS(opts ...Option) *LogisticRegressionWithLBFGS {
	return &LogisticRegressionWithLBFGS{settings: newSettings(opts)}
}

// Run validates data and trains a model
func (l *LogisticRegressionWithLBFGS) Run(ctx context.Context, data dataset.Collection[vector.LabeledPoint]) (*LogisticRegressionModel, *optimizer.Result, error) {
	s := l.settings
	intercept := s.useIntercept(true)

	cfg := s.lbfgs
	cfg.Updater = optimizer.WithExcludeLast(cfg.Updater, intercept)
	if err := cfg.Validate(); err != nil {
		return nil, nil, invalid("lbfgs config", "%s", err.Error())
	}
	lbfgs, err := optimizer.NewLBFGS(cfg)
	if err != nil {
		return nil, nil, err
	}

	alg := &GeneralizedLinearAlgorithm{
		Optimizer: lbfgs,
		Loss:      optimizer.LossLogistic,
		Intercept: intercept,
		Executor:  s.exec,
		Logger:    s.logger,
	}
	return alg.Run(ctx, data, s.initial)
}

// TrainSGD trains a logistic regression model with SGD
func TrainSGD(ctx context.Context, data dataset.Collection[vector.LabeledPoint], numIterations int, stepSize float64, opts ...Option) (*LogisticRegressionModel, error) {
	model, _, err := NewLogisticRegressionWithSGD(numIterations, stepSize, opts...).Run(ctx, data)
	return model, err
}

// TrainLBFGS trains a logistic regression model with L-BFGS
func TrainLBFGS(ctx context.Context, data dataset.Collection[vector.LabeledPoint], opts ...Option) (*LogisticRegressionModel, error) {
	model, _, err := NewLogisticRegressionWithLBFGS(opts...).Run(ctx, data)
	return model, err
}
