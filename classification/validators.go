package classification

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/npanj/spark/dataset"
	"github.com/npanj/spark/vector"
)

// ErrInvalidInput is the sentinel behind every ValidationError
var ErrInvalidInput = errors.New("invalid input")

// ValidationError reports input rejected before training starts
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validator checks a training set before any optimization runs. The data
// is inspected where it lives, one task per partition.
type Validator interface {
	Validate(ctx context.Context, exec *dataset.Executor, data dataset.Collection[vector.LabeledPoint]) error
}

// DimensionValidator requires every record to have NumFeatures features
type DimensionValidator struct {
	NumFeatures int
}

func (v DimensionValidator) Validate(ctx context.Context, exec *dataset.Executor, data dataset.Collection[vector.LabeledPoint]) error {
	bad, err := countViolations(ctx, exec, data, func(lp vector.LabeledPoint) bool {
		return len(lp.Features) != v.NumFeatures
	})
	if err != nil {
		return err
	}
	if bad > 0 {
		return invalid("features", "%d records do not have %d features", bad, v.NumFeatures)
	}
	return nil
}

// BinaryLabelValidator requires every label to be exactly 0 or 1
type BinaryLabelValidator struct{}

func (BinaryLabelValidator) Validate(ctx context.Context, exec *dataset.Executor, data dataset.Collection[vector.LabeledPoint]) error {
	bad, err := countViolations(ctx, exec, data, func(lp vector.LabeledPoint) bool {
		return lp.Label != 0 && lp.Label != 1
	})
	if err != nil {
		return err
	}
	if bad > 0 {
		return invalid("label", "%d records have labels other than 0 or 1", bad)
	}
	return nil
}

// countViolations counts the records rejected by bad across all partitions
func countViolations(ctx context.Context, exec *dataset.Executor, data dataset.Collection[vector.LabeledPoint], bad func(vector.LabeledPoint) bool) (int64, error) {
	counts, err := dataset.MapPartitions(ctx, exec, data, nil,
		func(_ context.Context, _ []byte, part dataset.Partition[vector.LabeledPoint]) (int64, error) {
			var n int64
			err := part.ForEach(func(lp vector.LabeledPoint) error {
				if bad(lp) {
					n++
				}
				return nil
			})
			return n, err
		})
	if err != nil {
		return 0, errors.Wrap(err, "validate")
	}
	total, _ := dataset.TreeReduce(counts, func(a, b int64) int64 { return a + b })
	return total, nil
}

// firstDimension returns the feature count of the first record found, or
// false when the collection is empty.
func firstDimension(data dataset.Collection[vector.LabeledPoint]) (int, bool) {
	stop := errors.New("stop")
	for i := 0; i < data.NumPartitions(); i++ {
		dim, found := 0, false
		_ = data.Partition(i).ForEach(func(lp vector.LabeledPoint) error {
			dim, found = len(lp.Features), true
			return stop
		})
		if found {
			return dim, true
		}
	}
	return 0, false
}
