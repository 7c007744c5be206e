// Package classification trains and serves binary logistic regression models
// on partitioned data. Training delegates every iteration to an optimizer
// from the optimizer package; the model itself is a small immutable value
// that can be shipped to partitions for batch scoring.
package classification

import (
	"context"
	"fmt"
	"math"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/npanj/spark/dataset"
	"github.com/npanj/spark/optimizer"
	"github.com/npanj/spark/vector"
)

// DefaultThreshold is the probability above which Predict returns 1
const DefaultThreshold = 0.5

// LogisticRegressionModel holds trained weights and an intercept. It is
// immutable and safe for concurrent prediction; threshold changes return
// modified copies.
type LogisticRegressionModel struct {
	weights      vector.Vector
	intercept    float64
	threshold    float64
	hasThreshold bool
}

// NewLogisticRegressionModel creates a model with the default threshold.
// weights is copied.
func NewLogisticRegressionModel(weights vector.Vector, intercept float64) *LogisticRegressionModel {
	return &LogisticRegressionModel{
		weights:      weights.Copy(),
		intercept:    intercept,
		threshold:    DefaultThreshold,
		hasThreshold: true,
	}
}

// Weights returns a copy of the feature weights
func (m *LogisticRegressionModel) Weights() vector.Vector {
	return m.weights.Copy()
}

func (m *LogisticRegressionModel) Intercept() float64 {
	return m.intercept
}

func (m *LogisticRegressionModel) NumFeatures() int {
	return len(m.weights)
}

// Threshold returns the decision threshold and whether one is set
func (m *LogisticRegressionModel) Threshold() (float64, bool) {
	return m.threshold, m.hasThreshold
}

// SetThreshold returns a copy of the model that classifies with threshold t
func (m *LogisticRegressionModel) SetThreshold(t float64) *LogisticRegressionModel {
	c := *m
	c.threshold = t
	c.hasThreshold = true
	return &c
}

// ClearThreshold returns a copy of the model whose predictions are raw
// probabilities.
func (m *LogisticRegressionModel) ClearThreshold() *LogisticRegressionModel {
	c := *m
	c.hasThreshold = false
	return &c
}

// Probability returns sigmoid(w.x + b)
func (m *LogisticRegressionModel) Probability(features vector.Vector) (float64, error) {
	margin, err := m.weights.Dot(features)
	if err != nil {
		return 0, errors.Wrapf(err, "model has %d features, input has %d", len(m.weights), len(features))
	}
	margin += m.intercept
	return 1.0 / (1.0 + math.Exp(-margin)), nil
}

// Predict returns 1 or 0 when a threshold is set, else the probability of
// the positive class.
func (m *LogisticRegressionModel) Predict(features vector.Vector) (float64, error) {
	p, err := m.Probability(features)
	if err != nil {
		return 0, err
	}
	if !m.hasThreshold {
		return p, nil
	}
	if p > m.threshold {
		return 1, nil
	}
	return 0, nil
}

// PredictBatch predicts every vector in order
func (m *LogisticRegressionModel) PredictBatch(features []vector.Vector) ([]float64, error) {
	out := make([]float64, len(features))
	for i, v := range features {
		p, err := m.Predict(v)
		if err != nil {
			return nil, errors.Wrapf(err, "input %d", i)
		}
		out[i] = p
	}
	return out, nil
}

// PredictCollection scores a partitioned collection and returns predictions
// with the same partitioning. Only the encoded model is shipped to tasks.
func (m *LogisticRegressionModel) PredictCollection(ctx context.Context, exec *dataset.Executor, c dataset.Collection[vector.Vector]) (*dataset.InMemory[float64], error) {
	parts, err := dataset.MapPartitions(ctx, exec, c, m.Marshal(), predictPartition)
	if err != nil {
		return nil, errors.Wrap(err, "predict collection")
	}
	return dataset.FromPartitions(parts), nil
}

func predictPartition(_ context.Context, payload []byte, part dataset.Partition[vector.Vector]) ([]float64, error) {
	model, err := UnmarshalModel(payload)
	if err != nil {
		return nil, err
	}
	out := make([]float64, 0, part.Len())
	err = part.ForEach(func(v vector.Vector) error {
		p, err := model.Predict(v)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func (m *LogisticRegressionModel) String() string {
	if m.hasThreshold {
		return fmt.Sprintf("LogisticRegressionModel(features=%d, intercept=%g, threshold=%g)", len(m.weights), m.intercept, m.threshold)
	}
	return fmt.Sprintf("LogisticRegressionModel(features=%d, intercept=%g, threshold=none)", len(m.weights), m.intercept)
}

const (
	modelWeightsField      protowire.Number = 1
	modelInterceptField    protowire.Number = 2
	modelThresholdField    protowire.Number = 3
	modelHasThresholdField protowire.Number = 4
)

// ErrMalformedModel is returned when a model payload cannot be decoded
var ErrMalformedModel = errors.New("malformed model payload")

// Marshal encodes the model as a protobuf wire message
func (m *LogisticRegressionModel) Marshal() []byte {
	b := make([]byte, 0, 8*len(m.weights)+32)
	b = optimizer.AppendPackedDoubles(b, modelWeightsField, m.weights)
	b = protowire.AppendTag(b, modelInterceptField, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(m.intercept))
	b = protowire.AppendTag(b, modelThresholdField, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, math.Float64bits(m.threshold))
	b = protowire.AppendTag(b, modelHasThresholdField, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(m.hasThreshold))
	return b
}

// UnmarshalModel decodes a payload produced by Marshal
func UnmarshalModel(b []byte) (*LogisticRegressionModel, error) {
	m := &LogisticRegressionModel{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, errors.Wrap(ErrMalformedModel, protowire.ParseError(n).Error())
		}
		b = b[n:]

		switch {
		case num == modelWeightsField && typ == protowire.BytesType:
			m.weights, n = optimizer.ConsumePackedDoubles(b)
		case num == modelInterceptField && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(b)
			m.intercept = math.Float64frombits(v)
		case num == modelThresholdField && typ == protowire.Fixed64Type:
			var v uint64
			v, n = protowire.ConsumeFixed64(b)
			m.threshold = math.Float64frombits(v)
		case num == modelHasThresholdField && typ == protowire.VarintType:
			var v uint64
			v, n = protowire.ConsumeVarint(b)
			m.hasThreshold = protowire.DecodeBool(v)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, errors.Wrapf(ErrMalformedModel, "field %d", num)
		}
		b = b[n:]
	}
	if m.weights == nil {
		m.weights = vector.Vector{}
	}
	return m, nil
}
