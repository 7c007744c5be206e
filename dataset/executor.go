package dataset

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxTaskBytes is the largest payload a single partition task may
// carry, matching the frame size of typical cluster transports.
const DefaultMaxTaskBytes = 10 << 20

var (
	// ErrTaskTooLarge is returned when a task payload exceeds MaxTaskBytes
	ErrTaskTooLarge = errors.New("task payload exceeds maximum task size")

	// ErrPartitionFailed matches every *PartitionError
	ErrPartitionFailed = errors.New("partition task failed")
)

// ExecutorConfig holds configuration for an Executor
type ExecutorConfig struct {
	MaxWorkers   int `yaml:"max_workers"`    // Partitions processed concurrently
	MaxTaskBytes int `yaml:"max_task_bytes"` // Upper bound on the serialized per-task state
}

// DefaultExecutorConfig returns an executor configuration using every CPU
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxWorkers:   runtime.GOMAXPROCS(0),
		MaxTaskBytes: DefaultMaxTaskBytes,
	}
}

// Validate checks the configuration
func (c ExecutorConfig) Validate() error {
	if c.MaxWorkers <= 0 {
		return errors.Newf("max workers must be positive, got %d", c.MaxWorkers)
	}
	if c.MaxTaskBytes <= 0 {
		return errors.Newf("max task bytes must be positive, got %d", c.MaxTaskBytes)
	}
	return nil
}

// Stats tracks what an executor has shipped to partitions
type Stats struct {
	Jobs            int64
	Tasks           int64
	LastTaskBytes   int64
	MaxTaskBytes    int64
	TotalTaskBytes  int64
	LastJobDuration time.Duration
}

// Executor runs partition tasks with bounded concurrency. It is safe for
// concurrent use.
type Executor struct {
	config ExecutorConfig
	logger *zap.Logger

	jobs        atomic.Int64
	tasks       atomic.Int64
	lastBytes   atomic.Int64
	maxBytes    atomic.Int64
	totalBytes  atomic.Int64
	lastJobNano atomic.Int64
}

// NewExecutor creates an executor. A nil logger disables logging.
func NewExecutor(config ExecutorConfig, logger *zap.Logger) (*Executor, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid executor config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{config: config, logger: logger}, nil
}

// Config returns the executor configuration
func (e *Executor) Config() ExecutorConfig {
	return e.config
}

// Stats returns a snapshot of the executor counters
func (e *Executor) Stats() Stats {
	return Stats{
		Jobs:            e.jobs.Load(),
		Tasks:           e.tasks.Load(),
		LastTaskBytes:   e.lastBytes.Load(),
		MaxTaskBytes:    e.maxBytes.Load(),
		TotalTaskBytes:  e.totalBytes.Load(),
		LastJobDuration: time.Duration(e.lastJobNano.Load()),
	}
}

func (e *Executor) recordPayload(size int64, partitions int) {
	e.jobs.Add(1)
	e.tasks.Add(int64(partitions))
	e.lastBytes.Store(size)
	e.totalBytes.Add(size * int64(partitions))
	for {
		cur := e.maxBytes.Load()
		if size <= cur || e.maxBytes.CompareAndSwap(cur, size) {
			return
		}
	}
}

var (
	defaultExecutor     *Executor
	defaultExecutorOnce sync.Once
)

// DefaultExecutor returns a process-wide executor with DefaultExecutorConfig
func DefaultExecutor() *Executor {
	defaultExecutorOnce.Do(func() {
		defaultExecutor, _ = NewExecutor(DefaultExecutorConfig(), nil)
	})
	return defaultExecutor
}

// PartitionError is the error of a failed partition task. Both
// ErrPartitionFailed and the task's own error are reachable through
// errors.Is and errors.As.
type PartitionError struct {
	Index int
	Err   error
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("partition %d: %v", e.Index, e.Err)
}

// Unwrap returns ErrPartitionFailed followed by the task error
func (e *PartitionError) Unwrap() []error {
	return []error{ErrPartitionFailed, e.Err}
}

// PartitionFunc computes one result per partition from the shipped payload.
// It must not retain payload after returning.
type PartitionFunc[T, R any] func(ctx context.Context, payload []byte, part Partition[T]) (R, error)

// MapPartitions runs fn once per partition and returns the results indexed by
// partition. payload is the only state shipped to tasks; each task receives
// its own copy. The first failing partition cancels the others and its error
// is returned as a *PartitionError.
func MapPartitions[T, R any](ctx context.Context, exec *Executor, c Collection[T], payload []byte, fn PartitionFunc[T, R]) ([]R, error) {
	if exec == nil {
		exec = DefaultExecutor()
	}
	if len(payload) > exec.config.MaxTaskBytes {
		return nil, errors.Wrapf(ErrTaskTooLarge, "payload is %d bytes, limit %d", len(payload), exec.config.MaxTaskBytes)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "map partitions")
	}

	numParts := c.NumPartitions()
	exec.recordPayload(int64(len(payload)), numParts)
	start := time.Now()

	results := make([]R, numParts)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(exec.config.MaxWorkers)

	for i := 0; i < numParts; i++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			shipped := make([]byte, len(payload))
			copy(shipped, payload)

			r, err := fn(gctx, shipped, c.Partition(i))
			if err != nil {
				return &PartitionError{Index: i, Err: err}
			}
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	exec.lastJobNano.Store(int64(elapsed))
	exec.logger.Debug("map partitions finished",
		zap.Int("partitions", numParts),
		zap.Int("payload_bytes", len(payload)),
		zap.Duration("elapsed", elapsed))
	return results, nil
}

// TreeReduce combines items pairwise, level by level, in index order. For a
// fixed number of items the combination order is fixed. It reports false
// when items is empty.
func TreeReduce[R any](items []R, combine func(a, b R) R) (R, bool) {
	var zero R
	if len(items) == 0 {
		return zero, false
	}

	level := items
	for len(level) > 1 {
		next := make([]R, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next[i/2] = combine(level[i], level[i+1])
			} else {
				next[i/2] = level[i]
			}
		}
		level = next
	}
	return level[0], true
}
