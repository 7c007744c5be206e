package optimizer

import (
	"context"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npanj/spark/vector"
)

// stubObjective returns a fixed summary, or an error, for every pass
type stubObjective struct {
	summary   Summary
	err       error
	intercept bool
	calls     int
}

func (s *stubObjective) Aggregate(_ context.Context, _ vector.Vector, _ Sample) (Summary, error) {
	s.calls++
	return s.summary, s.err
}

func (s *stubObjective) Intercept() bool { return s.intercept }

// countingUpdater wraps an updater and counts Compute calls
type countingUpdater struct {
	inner Updater
	calls int
}

func (c *countingUpdater) Compute(w, g vector.Vector, step float64, iter int, reg float64) (vector.Vector, float64) {
	c.calls++
	return c.inner.Compute(w, g, step, iter, reg)
}

func TestSGDConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultSGDConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *SGDConfig)
	}{
		{"zero_step", func(c *SGDConfig) { c.StepSize = 0 }},
		{"zero_iterations", func(c *SGDConfig) { c.NumIterations = 0 }},
		{"negative_reg", func(c *SGDConfig) { c.RegParam = -1 }},
		{"zero_fraction", func(c *SGDConfig) { c.MiniBatchFraction = 0 }},
		{"fraction_above_one", func(c *SGDConfig) { c.MiniBatchFraction = 1.5 }},
		{"negative_tol", func(c *SGDConfig) { c.ConvergenceTol = -1 }},
		{"nil_updater", func(c *SGDConfig) { c.Updater = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSGDConfig()
			tt.mutate(&cfg)
			_, err := NewGradientDescent(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestSGDReducesLogisticLoss(t *testing.T) {
	agg := NewAggregator(logisticData(t, 2000, 4), LossLogistic, 1, true, newTestExecutor(t))

	cfg := DefaultSGDConfig()
	cfg.StepSize = 10
	cfg.NumIterations = 20
	cfg.ConvergenceTol = 0
	var events []IterationEvent
	cfg.Listener = ListenerFunc(func(e IterationEvent) { events = append(events, e) })

	sgd, err := NewGradientDescent(cfg)
	require.NoError(t, err)
	assert.Equal(t, "SGD", sgd.Name())

	initial := vector.Zeros(2)
	res, err := sgd.Optimize(context.Background(), agg, initial)
	require.NoError(t, err)

	assert.Equal(t, vector.Zeros(2), initial)
	assert.Equal(t, 20, res.Iterations)
	assert.Equal(t, 20, res.Evaluations)
	assert.Len(t, res.LossHistory, 20)
	assert.False(t, res.Converged)
	assert.Equal(t, ReasonMaxIterations, res.Reason)

	// Mean log-loss at the origin is log 2 for any data.
	assert.InDelta(t, math.Log(2), res.LossHistory[0], 1e-12)
	assert.Less(t, res.FinalLoss(), res.LossHistory[0])

	// Weight on the feature is negative, intercept positive.
	assert.Less(t, res.Weights[0], 0.0)
	assert.Greater(t, res.Weights[1], 0.0)

	require.Len(t, events, 20)
	assert.Equal(t, 1, events[0].Iteration)
	assert.Equal(t, int64(2000), events[0].Examples)
	assert.InDelta(t, 10.0, events[0].StepSize, 1e-12)
	assert.InDelta(t, 5.0, events[3].StepSize, 1e-12)
}

func TestSGDIsDeterministic(t *testing.T) {
	agg := NewAggregator(logisticData(t, 3000, 5), LossLogistic, 1, true, newTestExecutor(t))

	cfg := DefaultSGDConfig()
	cfg.NumIterations = 15
	cfg.MiniBatchFraction = 0.4
	cfg.ConvergenceTol = 0

	run := func() *Result {
		sgd, err := NewGradientDescent(cfg)
		require.NoError(t, err)
		res, err := sgd.Optimize(context.Background(), agg, vector.Zeros(2))
		require.NoError(t, err)
		return res
	}

	a, b := run(), run()
	assert.Equal(t, a.Weights, b.Weights)
	assert.Equal(t, a.LossHistory, b.LossHistory)
}

func TestSGDCallsUpdaterOncePerIteration(t *testing.T) {
	agg := NewAggregator(logisticData(t, 200, 2), LossLogistic, 1, false, nil)
	counter := &countingUpdater{inner: SquaredL2Updater{}}

	cfg := DefaultSGDConfig()
	cfg.NumIterations = 7
	cfg.RegParam = 0.1
	cfg.ConvergenceTol = 0
	cfg.Updater = counter

	sgd, err := NewGradientDescent(cfg)
	require.NoError(t, err)
	res, err := sgd.Optimize(context.Background(), agg, vector.Dense(0.5))
	require.NoError(t, err)

	// One extra call prices the regularization of the starting point.
	assert.Equal(t, res.Iterations+1, counter.calls)
	assert.Equal(t, 7, res.Iterations)
}

func TestSGDReportsUpdaterStepSize(t *testing.T) {
	tests := []struct {
		name     string
		updater  Updater
		schedule StepSchedule
		want     []float64
	}{
		{"updater schedule wins", SimpleUpdater{Schedule: ConstantSchedule{}}, InverseSqrtSchedule{}, []float64{2, 2, 2}},
		{"config schedule fills in", SquaredL2Updater{}, NewExponentialSchedule(0.5), []float64{2, 1, 0.5}},
		{"custom updater uses config", &countingUpdater{inner: SimpleUpdater{}}, ConstantSchedule{}, []float64{2, 2, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(logisticData(t, 100, 2), LossLogistic, 1, false, nil)

			cfg := DefaultSGDConfig()
			cfg.NumIterations = 3
			cfg.StepSize = 2
			cfg.ConvergenceTol = 0
			cfg.Updater = tt.updater
			cfg.Schedule = tt.schedule
			var steps []float64
			cfg.Listener = ListenerFunc(func(e IterationEvent) { steps = append(steps, e.StepSize) })

			sgd, err := NewGradientDescent(cfg)
			require.NoError(t, err)
			_, err = sgd.Optimize(context.Background(), agg, vector.Dense(0))
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, steps, 1e-12)
		})
	}
}

func TestSGDConvergesOnFlatLoss(t *testing.T) {
	obj := &stubObjective{summary: Summary{Loss: 5, Gradient: vector.Dense(0), Count: 5}}

	cfg := DefaultSGDConfig()
	cfg.NumIterations = 50
	sgd, err := NewGradientDescent(cfg)
	require.NoError(t, err)

	res, err := sgd.Optimize(context.Background(), obj, vector.Dense(1))
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, ReasonConverged, res.Reason)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, []float64{1, 1}, res.LossHistory)
}

func TestSGDStopOnLossIncrease(t *testing.T) {
	// A constant positive gradient with a huge step overshoots immediately.
	agg := NewAggregator(logisticData(t, 500, 2), LossLogistic, 1, true, nil)

	cfg := DefaultSGDConfig()
	cfg.StepSize = 1e4
	cfg.NumIterations = 30
	cfg.ConvergenceTol = 0
	cfg.StopOnLossIncrease = true
	cfg.Schedule = ConstantSchedule{}

	sgd, err := NewGradientDescent(cfg)
	require.NoError(t, err)
	res, err := sgd.Optimize(context.Background(), agg, vector.Zeros(2))
	require.NoError(t, err)
	assert.Equal(t, ReasonLossIncreased, res.Reason)
	assert.Less(t, res.Iterations, 30)
}

func TestSGDSkipsEmptySamples(t *testing.T) {
	obj := &stubObjective{summary: Summary{Gradient: vector.Dense(0)}}

	cfg := DefaultSGDConfig()
	cfg.NumIterations = 4
	sgd, err := NewGradientDescent(cfg)
	require.NoError(t, err)

	res, err := sgd.Optimize(context.Background(), obj, vector.Dense(3))
	require.NoError(t, err)
	assert.Equal(t, vector.Dense(3), res.Weights)
	assert.Empty(t, res.LossHistory)
	assert.Equal(t, 4, res.Iterations)
	assert.Equal(t, 4, obj.calls)
}

func TestSGDErrors(t *testing.T) {
	sgd, err := NewGradientDescent(DefaultSGDConfig())
	require.NoError(t, err)

	t.Run("non_finite_loss", func(t *testing.T) {
		obj := &stubObjective{summary: Summary{Loss: math.NaN(), Gradient: vector.Dense(0), Count: 1}}
		_, err := sgd.Optimize(context.Background(), obj, vector.Dense(0))
		assert.ErrorIs(t, err, ErrNonFinite)
	})

	t.Run("non_finite_gradient", func(t *testing.T) {
		obj := &stubObjective{summary: Summary{Loss: 1, Gradient: vector.Dense(math.Inf(1)), Count: 1}}
		_, err := sgd.Optimize(context.Background(), obj, vector.Dense(0))
		assert.ErrorIs(t, err, ErrNonFinite)
	})

	t.Run("objective_failure", func(t *testing.T) {
		boom := errors.New("boom")
		obj := &stubObjective{err: boom}
		_, err := sgd.Optimize(context.Background(), obj, vector.Dense(0))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, obj.calls)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		obj := &stubObjective{summary: Summary{Loss: 1, Gradient: vector.Dense(0), Count: 1}}
		_, err := sgd.Optimize(ctx, obj, vector.Dense(0))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, obj.calls)
	})
}
