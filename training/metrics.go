package training

import (
	"context"
	"fmt"
	"sort"

	"github.com/cockroachdb/errors"

	"github.com/npanj/spark/classification"
	"github.com/npanj/spark/dataset"
	"github.com/npanj/spark/vector"
)

// MetricType represents the binary evaluation metrics
type MetricType int

const (
	Accuracy MetricType = iota
	Precision
	Recall
	F1Score
	Specificity
	NPV // Negative Predictive Value
	AUCROC
)

func (mt MetricType) String() string {
	switch mt {
	case Accuracy:
		return "Accuracy"
	case Precision:
		return "Precision"
	case Recall:
		return "Recall"
	case F1Score:
		return "F1Score"
	case Specificity:
		return "Specificity"
	case NPV:
		return "NPV"
	case AUCROC:
		return "AUCROC"
	default:
		return fmt.Sprintf("Unknown(%d)", int(mt))
	}
}

// ConfusionMatrix counts binary outcomes with class 1 as the positive class
type ConfusionMatrix struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64
}

// Add records one prediction against its label
func (cm *ConfusionMatrix) Add(predicted, label float64) {
	switch {
	case predicted == 1 && label == 1:
		cm.TruePositives++
	case predicted == 1:
		cm.FalsePositives++
	case label == 1:
		cm.FalseNegatives++
	default:
		cm.TrueNegatives++
	}
}

// Merge returns the element-wise sum of two matrices
func (cm ConfusionMatrix) Merge(o ConfusionMatrix) ConfusionMatrix {
	return ConfusionMatrix{
		TruePositives:  cm.TruePositives + o.TruePositives,
		FalsePositives: cm.FalsePositives + o.FalsePositives,
		TrueNegatives:  cm.TrueNegatives + o.TrueNegatives,
		FalseNegatives: cm.FalseNegatives + o.FalseNegatives,
	}
}

// Total returns the number of recorded samples
func (cm ConfusionMatrix) Total() int64 {
	return cm.TruePositives + cm.FalsePositives + cm.TrueNegatives + cm.FalseNegatives
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0.0
	}
	return float64(num) / float64(den)
}

// GetMetric returns a metric derivable from the counts. AUCROC needs scores
// and is reported as 0 here.
func (cm ConfusionMatrix) GetMetric(metric MetricType) float64 {
	switch metric {
	case Accuracy:
		return ratio(cm.TruePositives+cm.TrueNegatives, cm.Total())
	case Precision:
		return ratio(cm.TruePositives, cm.TruePositives+cm.FalsePositives)
	case Recall:
		return ratio(cm.TruePositives, cm.TruePositives+cm.FalseNegatives)
	case F1Score:
		precision := cm.GetMetric(Precision)
		recall := cm.GetMetric(Recall)
		if precision+recall == 0 {
			return 0.0
		}
		return 2 * (precision * recall) / (precision + recall)
	case Specificity:
		return ratio(cm.TrueNegatives, cm.TrueNegatives+cm.FalsePositives)
	case NPV:
		return ratio(cm.TrueNegatives, cm.TrueNegatives+cm.FalseNegatives)
	default:
		return 0.0
	}
}

// CalculateAUCROC returns the area under the ROC curve of scores against
// binary labels. Tied scores form a single ROC step. It returns 0 when only
// one class is present.
func CalculateAUCROC(scores, labels []float64) (float64, error) {
	if len(scores) != len(labels) {
		return 0, errors.Newf("scores length %d does not match labels length %d", len(scores), len(labels))
	}

	type scoreLabel struct {
		score float64
		label float64
	}
	pairs := make([]scoreLabel, len(scores))
	var totalPos, totalNeg int64
	for i := range scores {
		pairs[i] = scoreLabel{score: scores[i], label: labels[i]}
		if labels[i] == 1 {
			totalPos++
		} else {
			totalNeg++
		}
	}
	if totalPos == 0 || totalNeg == 0 {
		return 0.0, nil
	}

	// Sort by score, descending
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].score > pairs[j].score
	})

	// Trapezoidal rule over the ROC points
	auc := 0.0
	var tp, fp int64
	prevTPR, prevFPR := 0.0, 0.0
	for i := 0; i < len(pairs); {
		j := i
		for ; j < len(pairs) && pairs[j].score == pairs[i].score; j++ {
			if pairs[j].label == 1 {
				tp++
			} else {
				fp++
			}
		}
		tpr := float64(tp) / float64(totalPos)
		fpr := float64(fp) / float64(totalNeg)
		auc += (fpr - prevFPR) * (tpr + prevTPR) / 2.0
		prevTPR, prevFPR = tpr, fpr
		i = j
	}
	return auc, nil
}

// BinaryMetrics summarizes a model on a labelled dataset
type BinaryMetrics struct {
	Confusion ConfusionMatrix
	AUC       float64
}

func (m BinaryMetrics) Accuracy() float64  { return m.Confusion.GetMetric(Accuracy) }
func (m BinaryMetrics) Precision() float64 { return m.Confusion.GetMetric(Precision) }
func (m BinaryMetrics) Recall() float64    { return m.Confusion.GetMetric(Recall) }
func (m BinaryMetrics) F1() float64        { return m.Confusion.GetMetric(F1Score) }

func (m BinaryMetrics) String() string {
	return fmt.Sprintf("accuracy=%.4f precision=%.4f recall=%.4f f1=%.4f auc=%.4f (n=%d)",
		m.Accuracy(), m.Precision(), m.Recall(), m.F1(), m.AUC, m.Confusion.Total())
}

type partitionEval struct {
	confusion ConfusionMatrix
	scores    []float64
	labels    []float64
}

// EvaluateBinary scores every record where it lives and combines the
// partition confusion matrices. Scores are gathered for the AUC. A model
// without a threshold is evaluated at the default threshold.
func EvaluateBinary(ctx context.Context, exec *dataset.Executor, model *classification.LogisticRegressionModel, data dataset.Collection[vector.LabeledPoint]) (BinaryMetrics, error) {
	threshold, ok := model.Threshold()
	if !ok {
		threshold = classification.DefaultThreshold
	}
	scorer := model.ClearThreshold()

	parts, err := dataset.MapPartitions(ctx, exec, data, scorer.Marshal(),
		func(_ context.Context, payload []byte, part dataset.Partition[vector.LabeledPoint]) (partitionEval, error) {
			m, err := classification.UnmarshalModel(payload)
			if err != nil {
				return partitionEval{}, err
			}
			var pe partitionEval
			err = part.ForEach(func(lp vector.LabeledPoint) error {
				p, err := m.Predict(lp.Features)
				if err != nil {
					return err
				}
				predicted := 0.0
				if p > threshold {
					predicted = 1.0
				}
				pe.confusion.Add(predicted, lp.Label)
				pe.scores = append(pe.scores, p)
				pe.labels = append(pe.labels, lp.Label)
				return nil
			})
			return pe, err
		})
	if err != nil {
		return BinaryMetrics{}, errors.Wrap(err, "evaluate")
	}

	var metrics BinaryMetrics
	var scores, labels []float64
	for _, pe := range parts {
		metrics.Confusion = metrics.Confusion.Merge(pe.confusion)
		scores = append(scores, pe.scores...)
		labels = append(labels, pe.labels...)
	}
	metrics.AUC, err = CalculateAUCROC(scores, labels)
	return metrics, err
}
