package training

import (
	"os"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v2"

	"github.com/npanj/spark/classification"
	"github.com/npanj/spark/dataset"
	"github.com/npanj/spark/logging"
	"github.com/npanj/spark/optimizer"
)

// Optimizer names accepted in Config.Optimizer
const (
	OptimizerSGD   = "sgd"
	OptimizerLBFGS = "lbfgs"
)

// Config describes a training run
type Config struct {
	Optimizer string `yaml:"optimizer"`
	Intercept *bool  `yaml:"intercept"` // nil keeps the trainer default

	SGD      SGDSettings            `yaml:"sgd"`
	LBFGS    LBFGSSettings          `yaml:"lbfgs"`
	Executor dataset.ExecutorConfig `yaml:"executor"`
	Logging  logging.Options        `yaml:"logging"`
	Data     DataConfig             `yaml:"data"`
	Metrics  MetricsConfig          `yaml:"metrics"`
}

// SGDSettings configures mini-batch gradient descent
type SGDSettings struct {
	NumIterations      int     `yaml:"num_iterations"`
	StepSize           float64 `yaml:"step_size"`
	MiniBatchFraction  float64 `yaml:"mini_batch_fraction"`
	RegParam           float64 `yaml:"reg_param"`
	ConvergenceTol     float64 `yaml:"convergence_tol"`
	StopOnLossIncrease bool    `yaml:"stop_on_loss_increase"`
	Seed               int64   `yaml:"seed"`
	Updater            string  `yaml:"updater"`  // simple, l2, l1; empty picks l2 when reg_param > 0
	Schedule           string  `yaml:"schedule"` // inverse_sqrt, constant, exponential
	Gamma              float64 `yaml:"gamma"`    // exponential decay rate
}

// LBFGSSettings configures L-BFGS
type LBFGSSettings struct {
	NumCorrections int     `yaml:"num_corrections"`
	MaxIterations  int     `yaml:"max_iterations"`
	MaxEvaluations int     `yaml:"max_evaluations"`
	ConvergenceTol float64 `yaml:"convergence_tol"`
	RegParam       float64 `yaml:"reg_param"`
	Updater        string  `yaml:"updater"` // l2, l1, simple
}

// DataConfig describes the synthetic dataset used by the demo program
type DataConfig struct {
	Points     int     `yaml:"points"`
	TestPoints int     `yaml:"test_points"`
	Partitions int     `yaml:"partitions"`
	Offset     float64 `yaml:"offset"`
	Scale      float64 `yaml:"scale"`
	Seed       uint64  `yaml:"seed"`
}

// MetricsConfig controls Prometheus export
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Addr      string `yaml:"addr"` // empty disables the HTTP endpoint
}

// DefaultConfig returns a configuration that trains with L-BFGS
func DefaultConfig() Config {
	sgd := optimizer.DefaultSGDConfig()
	lbfgs := optimizer.DefaultLBFGSConfig()
	return Config{
		Optimizer: OptimizerLBFGS,
		SGD: SGDSettings{
			NumIterations:     sgd.NumIterations,
			StepSize:          sgd.StepSize,
			MiniBatchFraction: sgd.MiniBatchFraction,
			ConvergenceTol:    sgd.ConvergenceTol,
			Seed:              sgd.Seed,
			Schedule:          "inverse_sqrt",
		},
		LBFGS: LBFGSSettings{
			NumCorrections: lbfgs.NumCorrections,
			MaxIterations:  lbfgs.MaxIterations,
			MaxEvaluations: lbfgs.MaxEvaluations,
			ConvergenceTol: lbfgs.ConvergenceTol,
			Updater:        "l2",
		},
		Executor: dataset.DefaultExecutorConfig(),
		Logging:  logging.DefaultOptions(),
		Data: DataConfig{
			Points:     10000,
			TestPoints: 2000,
			Partitions: 4,
			Offset:     2.0,
			Scale:      -1.5,
			Seed:       42,
		},
		Metrics: MetricsConfig{Namespace: "spark"},
	}
}

// LoadConfig reads a YAML file. Keys absent from the file keep their
// DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate checks the fields that are not validated by the trainers
func (c Config) Validate() error {
	switch c.Optimizer {
	case OptimizerSGD, OptimizerLBFGS:
	default:
		return errors.Newf("unknown optimizer %q", c.Optimizer)
	}
	if _, ok := optimizer.ScheduleByName(c.SGD.Schedule, c.SGD.Gamma); !ok {
		return errors.Newf("unknown sgd schedule %q", c.SGD.Schedule)
	}
	if _, ok := optimizer.UpdaterByName(c.SGD.Updater, nil); !ok {
		return errors.Newf("unknown sgd updater %q", c.SGD.Updater)
	}
	if c.SGD.Updater == "simple" && c.SGD.RegParam > 0 {
		return errors.Newf("sgd updater %q does not regularize, got reg_param %g", c.SGD.Updater, c.SGD.RegParam)
	}
	if _, ok := optimizer.UpdaterByName(c.LBFGS.Updater, nil); !ok {
		return errors.Newf("unknown lbfgs updater %q", c.LBFGS.Updater)
	}
	if err := c.Executor.Validate(); err != nil {
		return errors.Wrap(err, "executor")
	}
	if err := c.Logging.Validate(); err != nil {
		return errors.Wrap(err, "logging")
	}
	if c.Data.Points <= 0 || c.Data.Partitions <= 0 || c.Data.TestPoints < 0 {
		return errors.Newf("data needs positive points and partitions, got points=%d partitions=%d test_points=%d",
			c.Data.Points, c.Data.Partitions, c.Data.TestPoints)
	}
	return nil
}

// TrainerOptions translates the optimizer settings of the selected
// optimizer into classification options. Callers append their own options
// (executor, logger, listener) after these.
func (c Config) TrainerOptions() ([]classification.Option, error) {
	var opts []classification.Option
	if c.Intercept != nil {
		opts = append(opts, classification.WithIntercept(*c.Intercept))
	}

	switch c.Optimizer {
	case OptimizerSGD:
		schedule, ok := optimizer.ScheduleByName(c.SGD.Schedule, c.SGD.Gamma)
		if !ok {
			return nil, errors.Newf("unknown sgd schedule %q", c.SGD.Schedule)
		}
		if c.SGD.Updater != "" {
			updater, ok := optimizer.UpdaterByName(c.SGD.Updater, schedule)
			if !ok {
				return nil, errors.Newf("unknown sgd updater %q", c.SGD.Updater)
			}
			opts = append(opts, classification.WithUpdater(updater))
		}
		opts = append(opts,
			classification.WithSchedule(schedule),
			classification.WithMiniBatchFraction(c.SGD.MiniBatchFraction),
			classification.WithRegParam(c.SGD.RegParam),
			classification.WithConvergenceTol(c.SGD.ConvergenceTol),
			classification.WithStopOnLossIncrease(c.SGD.StopOnLossIncrease),
			classification.WithSeed(c.SGD.Seed),
		)
	case OptimizerLBFGS:
		updater, ok := optimizer.UpdaterByName(c.LBFGS.Updater, nil)
		if !ok {
			return nil, errors.Newf("unknown lbfgs updater %q", c.LBFGS.Updater)
		}
		opts = append(opts,
			classification.WithUpdater(updater),
			classification.WithNumCorrections(c.LBFGS.NumCorrections),
			classification.WithMaxIterations(c.LBFGS.MaxIterations),
			classification.WithMaxEvaluations(c.LBFGS.MaxEvaluations),
			classification.WithConvergenceTol(c.LBFGS.ConvergenceTol),
			classification.WithRegParam(c.LBFGS.RegParam),
		)
	default:
		return nil, errors.Newf("unknown optimizer %q", c.Optimizer)
	}
	return opts, nil
}

// Iterations returns the iteration budget of the selected optimizer
func (c Config) Iterations() int {
	if c.Optimizer == OptimizerSGD {
		return c.SGD.NumIterations
	}
	return c.LBFGS.MaxIterations
}
