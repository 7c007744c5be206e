package optimizer

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"github.com/npanj/spark/vector"
)

// LBFGSConfig holds configuration for the L-BFGS optimizer
type LBFGSConfig struct {
	NumCorrections int     // History size m (number of correction pairs stored)
	ConvergenceTol float64 // Relative function improvement below which the run stops
	MaxIterations  int     // Major iteration cap, 0 for unlimited
	MaxEvaluations int     // Aggregation pass cap, 0 for unlimited
	GradientTol    float64 // Gradient infinity-norm threshold
	RegParam       float64

	Updater  Updater // Source of the regularization term
	Logger   *zap.Logger
	Listener Listener
}

// DefaultLBFGSConfig returns default L-BFGS optimizer configuration
func DefaultLBFGSConfig() LBFGSConfig {
	return LBFGSConfig{
		NumCorrections: 10,
		ConvergenceTol: 1e-6,
		MaxIterations:  100,
		MaxEvaluations: 0,
		GradientTol:    1e-8,
		RegParam:       0.0,
		Updater:        SquaredL2Updater{},
	}
}

// Validate checks the configuration
func (c LBFGSConfig) Validate() error {
	if c.NumCorrections <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "number of corrections must be positive, got %d", c.NumCorrections)
	}
	if c.ConvergenceTol < 0 {
		return errors.Wrapf(ErrInvalidConfig, "convergence tolerance cannot be negative: %g", c.ConvergenceTol)
	}
	if c.MaxIterations < 0 {
		return errors.Wrapf(ErrInvalidConfig, "max iterations cannot be negative: %d", c.MaxIterations)
	}
	if c.MaxEvaluations < 0 {
		return errors.Wrapf(ErrInvalidConfig, "max evaluations cannot be negative: %d", c.MaxEvaluations)
	}
	if c.GradientTol < 0 {
		return errors.Wrapf(ErrInvalidConfig, "gradient tolerance cannot be negative: %g", c.GradientTol)
	}
	if c.RegParam < 0 {
		return errors.Wrapf(ErrInvalidConfig, "regularization parameter cannot be negative: %g", c.RegParam)
	}
	if c.Updater == nil {
		return errors.Wrap(ErrInvalidConfig, "updater is required")
	}
	return nil
}

// LBFGS minimizes the averaged loss plus regularization with limited-memory
// BFGS and a More-Thuente strong Wolfe line search. Each distinct point costs
// one aggregation pass.
type LBFGS struct {
	config LBFGSConfig
	logger *zap.Logger
}

// NewLBFGS creates an L-BFGS optimizer
func NewLBFGS(config LBFGSConfig) (*LBFGS, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LBFGS{config: config, logger: logger.Named("lbfgs")}, nil
}

// Config returns the optimizer configuration
func (l *LBFGS) Config() LBFGSConfig {
	return l.config
}

func (l *LBFGS) Name() string {
	return "L-BFGS"
}

// costFun evaluates the regularized objective for gonum. gonum asks for the
// value and the gradient through separate callbacks, so the last point is
// cached to keep it at one pass per point.
type costFun struct {
	ctx       context.Context
	obj       Objective
	updater   Updater
	regParam  float64
	intercept bool

	evaluations int
	lastCount   int64
	err         error

	cachedX    []float64
	cachedF    float64
	cachedGrad []float64
}

func (c *costFun) evaluate(x []float64) {
	if c.cachedX != nil && floats.Equal(c.cachedX, x) {
		return
	}
	c.cachedX = append(c.cachedX[:0], x...)
	c.cachedF = math.NaN()
	if c.cachedGrad == nil {
		c.cachedGrad = make([]float64, len(x))
	}
	for i := range c.cachedGrad {
		c.cachedGrad[i] = math.NaN()
	}
	if c.err != nil {
		return
	}

	params := vector.Vector(x).Copy()
	sum, err := c.obj.Aggregate(c.ctx, params, FullSample)
	c.evaluations++
	if err != nil {
		c.err = err
		return
	}
	if sum.Count == 0 {
		c.err = errors.Wrap(ErrInvalidConfig, "objective has no examples")
		return
	}
	c.lastCount = sum.Count

	loss, grad := flatMean(sum, c.intercept)
	regVal, regGrad := regularization(c.updater, params, c.regParam)
	mustAxpy("lbfgs gradient", grad, 1, regGrad)
	f := loss + regVal
	if err := checkFinite("lbfgs objective", c.evaluations, f, grad); err != nil {
		c.err = err
		return
	}
	c.cachedF = f
	copy(c.cachedGrad, grad)
}

// status stops gonum as soon as the oracle has failed
func (c *costFun) status() (optimize.Status, error) {
	if c.err != nil {
		return optimize.Failure, c.err
	}
	return optimize.NotTerminated, nil
}

func (c *costFun) Func(x []float64) float64 {
	c.evaluate(x)
	return c.cachedF
}

func (c *costFun) Grad(grad, x []float64) {
	c.evaluate(x)
	copy(grad, c.cachedGrad)
}

// recorder forwards gonum's major iterations to the loss history and
// listener. gonum reports the starting point as its first major iteration;
// it enters the history but is not counted as a step.
type recorder struct {
	name     string
	cost     *costFun
	listener Listener
	logger   *zap.Logger
	history  []float64
	steps    int
	last     time.Time
}

func (r *recorder) Init() error {
	r.last = time.Now()
	return nil
}

func (r *recorder) Record(loc *optimize.Location, op optimize.Operation, _ *optimize.Stats) error {
	if r.cost.err != nil {
		return r.cost.err
	}
	if op != optimize.MajorIteration {
		return r.cost.ctx.Err()
	}
	now := time.Now()
	r.history = append(r.history, loc.F)
	if len(r.history) == 1 {
		r.last = now
		return r.cost.ctx.Err()
	}
	r.steps++
	event := IterationEvent{
		Optimizer: r.name,
		Iteration: r.steps,
		Loss:      loc.F,
		Examples:  r.cost.lastCount,
		Duration:  now.Sub(r.last),
	}
	if loc.Gradient != nil {
		event.GradNorm = floats.Norm(loc.Gradient, 2)
	}
	r.last = now
	notify(r.listener, event)
	r.logger.Debug("iteration",
		zap.Int("iteration", event.Iteration),
		zap.Float64("loss", event.Loss),
		zap.Float64("grad_norm", event.GradNorm),
		zap.Int("evaluations", r.cost.evaluations))
	return r.cost.ctx.Err()
}

// Optimize minimizes the objective starting from initial. Running out of
// iterations or evaluations is not an error; the best point found is returned.
func (l *LBFGS) Optimize(ctx context.Context, obj Objective, initial vector.Vector) (*Result, error) {
	cfg := l.config
	if len(initial) == 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "initial parameters are empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "lbfgs")
	}

	cost := &costFun{
		ctx:       ctx,
		obj:       obj,
		updater:   cfg.Updater,
		regParam:  cfg.RegParam,
		intercept: obj.Intercept(),
	}
	rec := &recorder{name: l.Name(), cost: cost, listener: cfg.Listener, logger: l.logger}

	problem := optimize.Problem{
		Func:   cost.Func,
		Grad:   cost.Grad,
		Status: cost.status,
	}
	// gonum counts the starting point as a major iteration
	majorIterations := cfg.MaxIterations
	if majorIterations > 0 {
		majorIterations++
	}
	settings := &optimize.Settings{
		GradientThreshold: cfg.GradientTol,
		Converger: &optimize.FunctionConverge{
			Relative:   cfg.ConvergenceTol,
			Iterations: 1,
		},
		MajorIterations: majorIterations,
		FuncEvaluations: cfg.MaxEvaluations,
		Recorder:        rec,
	}
	method := &optimize.LBFGS{
		Store:        cfg.NumCorrections,
		Linesearcher: &optimize.MoreThuente{},
	}

	l.logger.Info("starting l-bfgs",
		zap.Int("params", len(initial)),
		zap.Int("corrections", cfg.NumCorrections),
		zap.Int("max_iterations", cfg.MaxIterations),
		zap.Float64("convergence_tol", cfg.ConvergenceTol),
		zap.Float64("reg_param", cfg.RegParam))

	res, err := optimize.Minimize(problem, initial.Copy(), settings, method)
	if cost.err != nil {
		return nil, errors.Wrap(cost.err, "lbfgs")
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, errors.Wrap(ctxErr, "lbfgs")
	}
	if res == nil {
		return nil, errors.Wrap(err, "lbfgs")
	}

	result := &Result{
		Weights:     vector.Vector(res.X).Copy(),
		LossHistory: rec.history,
		Iterations:  rec.steps,
		Evaluations: cost.evaluations,
		Reason:      res.Status.String(),
	}
	if len(result.LossHistory) == 0 && !math.IsNaN(res.F) {
		result.LossHistory = []float64{res.F}
	}

	switch {
	case err != nil:
		// The line search could not improve on the best point. With any
		// progress made, that point is the answer.
		if rec.steps == 0 || !result.Weights.IsFinite() {
			return nil, errors.Wrap(err, "lbfgs")
		}
		l.logger.Warn("line search stopped, returning best point",
			zap.Error(err),
			zap.Int("iterations", rec.steps))
		result.Converged = true
		result.Reason = ReasonLineSearchStop
	case res.Status == optimize.GradientThreshold || res.Status == optimize.FunctionConvergence:
		result.Converged = true
	}
	if err := checkFinite("lbfgs result", result.Iterations, res.F, result.Weights); err != nil {
		return nil, err
	}

	l.logger.Info("l-bfgs finished",
		zap.Int("iterations", result.Iterations),
		zap.Int("evaluations", result.Evaluations),
		zap.Float64("final_loss", res.F),
		zap.String("status", result.Reason))
	return result, nil
}
