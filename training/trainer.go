package training

import (
	"context"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/npanj/spark/classification"
	"github.com/npanj/spark/dataset"
	"github.com/npanj/spark/optimizer"
	"github.com/npanj/spark/vector"
)

// Report holds the outcome of one training run
type Report struct {
	Model    *classification.LogisticRegressionModel
	Result   *optimizer.Result
	Duration time.Duration
	Executor dataset.Stats // executor counters after the run
}

// Trainer runs config-driven logistic regression training on one executor
type Trainer struct {
	config    Config
	logger    *zap.Logger
	exec      *dataset.Executor
	listeners []optimizer.Listener
	progress  io.Writer
}

// NewTrainer validates config and creates its executor. Listeners receive
// every iteration event after the progress logger.
func NewTrainer(config Config, logger *zap.Logger, listeners ...optimizer.Listener) (*Trainer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	exec, err := dataset.NewExecutor(config.Executor, logger.Named("executor"))
	if err != nil {
		return nil, err
	}
	return &Trainer{
		config:    config,
		logger:    logger,
		exec:      exec,
		listeners: listeners,
	}, nil
}

// SetProgressOutput draws a progress bar on w during training
func (t *Trainer) SetProgressOutput(w io.Writer) {
	t.progress = w
}

// Executor returns the executor shared by training and evaluation
func (t *Trainer) Executor() *dataset.Executor {
	return t.exec
}

// Train fits a model with the configured optimizer
func (t *Trainer) Train(ctx context.Context, data dataset.Collection[vector.LabeledPoint]) (*Report, error) {
	opts, err := t.config.TrainerOptions()
	if err != nil {
		return nil, err
	}

	progress := NewProgressLogger(t.logger, 10, t.config.Iterations(), t.progress)
	listener := append(optimizer.MultiListener{progress}, t.listeners...)
	opts = append(opts,
		classification.WithExecutor(t.exec),
		classification.WithLogger(t.logger),
		classification.WithListener(listener),
	)

	t.logger.Info("training started",
		zap.String("optimizer", t.config.Optimizer),
		zap.Int("partitions", data.NumPartitions()),
		zap.Int("max_workers", t.exec.Config().MaxWorkers))

	start := time.Now()
	var (
		model  *classification.LogisticRegressionModel
		result *optimizer.Result
	)
	switch t.config.Optimizer {
	case OptimizerSGD:
		model, result, err = classification.NewLogisticRegressionWithSGD(
			t.config.SGD.NumIterations, t.config.SGD.StepSize, opts...).Run(ctx, data)
	default:
		model, result, err = classification.NewLogisticRegressionWithLBFGS(opts...).Run(ctx, data)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "train with %s", t.config.Optimizer)
	}
	progress.Finish()

	report := &Report{
		Model:    model,
		Result:   result,
		Duration: time.Since(start),
		Executor: t.exec.Stats(),
	}
	t.logger.Info("training finished",
		zap.Int("iterations", result.Iterations),
		zap.String("reason", result.Reason),
		zap.Float64("final_loss", result.FinalLoss()),
		zap.Duration("duration", report.Duration),
		zap.Int64("max_task_bytes", report.Executor.MaxTaskBytes))
	return report, nil
}

// Evaluate scores model on data with the trainer's executor
func (t *Trainer) Evaluate(ctx context.Context, model *classification.LogisticRegressionModel, data dataset.Collection[vector.LabeledPoint]) (BinaryMetrics, error) {
	return EvaluateBinary(ctx, t.exec, model, data)
}
