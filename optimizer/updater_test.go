package optimizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/npanj/spark/vector"
)

func TestSimpleUpdater(t *testing.T) {
	u := SimpleUpdater{}
	old := vector.Dense(1, 2)

	w, reg := u.Compute(old, vector.Dense(1, -1), 2, 4, 0.5)
	// step 2/sqrt(4) = 1
	assert.Equal(t, vector.Dense(0, 3), w)
	assert.Equal(t, 0.0, reg)
	assert.Equal(t, vector.Dense(1, 2), old, "input must not be modified")
}

func TestSquaredL2Updater(t *testing.T) {
	t.Run("shrinks_all_slots", func(t *testing.T) {
		u := SquaredL2Updater{Schedule: ConstantSchedule{}}
		w, reg := u.Compute(vector.Dense(2, 4), vector.Dense(0, 0), 0.5, 1, 0.2)
		// shrink factor 1 - 0.5*0.2 = 0.9
		assert.InDeltaSlice(t, []float64{1.8, 3.6}, []float64(w), 1e-12)
		assert.InDelta(t, 0.5*0.2*(1.8*1.8+3.6*3.6), reg, 1e-12)
	})

	t.Run("exclude_last_keeps_intercept", func(t *testing.T) {
		u := SquaredL2Updater{Schedule: ConstantSchedule{}, ExcludeLast: true}
		w, reg := u.Compute(vector.Dense(2, 4), vector.Dense(0, 0), 0.5, 1, 0.2)
		assert.InDeltaSlice(t, []float64{1.8, 4}, []float64(w), 1e-12)
		assert.InDelta(t, 0.5*0.2*1.8*1.8, reg, 1e-12)
	})

	t.Run("zero_step_reports_current_penalty", func(t *testing.T) {
		w, reg := SquaredL2Updater{}.Compute(vector.Dense(3), vector.Dense(10), 0, 1, 2)
		assert.Equal(t, vector.Dense(3), w)
		assert.InDelta(t, 9.0, reg, 1e-12)
	})
}

func TestL1Updater(t *testing.T) {
	u := L1Updater{Schedule: ConstantSchedule{}}
	w, reg := u.Compute(vector.Dense(1, -1, 0.05), vector.Dense(0, 0, 0), 1, 1, 0.1)
	assert.InDeltaSlice(t, []float64{0.9, -0.9, 0}, []float64(w), 1e-12)
	assert.InDelta(t, 0.1*1.8, reg, 1e-12)

	excl := L1Updater{Schedule: ConstantSchedule{}, ExcludeLast: true}
	w, _ = excl.Compute(vector.Dense(1, 0.05), vector.Dense(0, 0), 1, 1, 0.1)
	assert.InDeltaSlice(t, []float64{0.9, 0.05}, []float64(w), 1e-12)
}

func TestRegularizationFromUpdater(t *testing.T) {
	w := vector.Dense(1, -2, 3)

	val, grad := regularization(SquaredL2Updater{}, w, 0.5)
	assert.InDelta(t, 0.25*14, val, 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, -1, 1.5}, []float64(grad), 1e-12)

	val, grad = regularization(SquaredL2Updater{ExcludeLast: true}, w, 0.5)
	assert.InDelta(t, 0.25*5, val, 1e-12)
	assert.InDeltaSlice(t, []float64{0.5, -1, 0}, []float64(grad), 1e-12)

	val, grad = regularization(SimpleUpdater{}, w, 0.5)
	assert.Equal(t, 0.0, val)
	assert.InDeltaSlice(t, []float64{0, 0, 0}, []float64(grad), 1e-12)
}

func TestWithExcludeLastAndSchedule(t *testing.T) {
	u := WithExcludeLast(SquaredL2Updater{}, true)
	assert.True(t, u.(SquaredL2Updater).ExcludeLast)
	assert.Equal(t, SimpleUpdater{}, WithExcludeLast(SimpleUpdater{}, true))

	s := WithSchedule(SimpleUpdater{}, ConstantSchedule{})
	assert.Equal(t, ConstantSchedule{}, s.(SimpleUpdater).Schedule)

	// An explicit schedule wins.
	s = WithSchedule(L1Updater{Schedule: InverseSqrtSchedule{}}, ConstantSchedule{})
	assert.Equal(t, InverseSqrtSchedule{}, s.(L1Updater).Schedule)
}

func TestSchedules(t *testing.T) {
	tests := []struct {
		name     string
		schedule StepSchedule
		iter     int
		expected float64
	}{
		{"inverse_sqrt_first", InverseSqrtSchedule{}, 1, 1.0},
		{"inverse_sqrt_fourth", InverseSqrtSchedule{}, 4, 0.5},
		{"inverse_sqrt_clamps_zero", InverseSqrtSchedule{}, 0, 1.0},
		{"constant", ConstantSchedule{}, 100, 1.0},
		{"exponential_first", NewExponentialSchedule(0.9), 1, 1.0},
		{"exponential_third", NewExponentialSchedule(0.9), 3, 0.81},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.schedule.StepSize(1.0, tt.iter)
			if math.Abs(got-tt.expected) > 1e-12 {
				t.Errorf("StepSize(1, %d) = %v, want %v", tt.iter, got, tt.expected)
			}
		})
	}

	assert.Equal(t, 0.95, NewExponentialSchedule(2).Gamma)

	s, ok := ScheduleByName("constant", 0)
	assert.True(t, ok)
	assert.Equal(t, "Constant", s.Name())
	s, ok = ScheduleByName("", 0)
	assert.True(t, ok)
	assert.Equal(t, "InverseSqrt", s.Name())
	_, ok = ScheduleByName("cosine", 0)
	assert.False(t, ok)
}

func TestUpdaterByName(t *testing.T) {
	tests := []struct {
		name string
		want Updater
	}{
		{"", SimpleUpdater{Schedule: ConstantSchedule{}}},
		{"simple", SimpleUpdater{Schedule: ConstantSchedule{}}},
		{"l2", SquaredL2Updater{Schedule: ConstantSchedule{}}},
		{"squared_l2", SquaredL2Updater{Schedule: ConstantSchedule{}}},
		{"l1", L1Updater{Schedule: ConstantSchedule{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, ok := UpdaterByName(tt.name, ConstantSchedule{})
			assert.True(t, ok)
			assert.Equal(t, tt.want, u)
		})
	}

	_, ok := UpdaterByName("elastic", nil)
	assert.False(t, ok)
}

func TestUpdatersPanicOnLengthMismatch(t *testing.T) {
	tests := []struct {
		name    string
		updater Updater
	}{
		{"simple updater", SimpleUpdater{}},
		{"squared l2 updater", SquaredL2Updater{}},
		{"l1 updater", L1Updater{ExcludeLast: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := panicMessage(func() { tt.updater.Compute(vector.Dense(1, 2), vector.Dense(1, 2, 3), 1, 1, 0.1) })
			assert.Contains(t, msg, tt.name)
			assert.Contains(t, msg, "2 != 3")
			assert.NotPanics(t, func() { tt.updater.Compute(vector.Dense(1, 2), vector.Dense(1, 2), 1, 1, 0.1) })
		})
	}
}

// panicMessage runs fn and returns the string it panicked with
func panicMessage(fn func()) (msg string) {
	defer func() {
		if r := recover(); r != nil {
			msg, _ = r.(string)
		}
	}()
	fn()
	return ""
}
