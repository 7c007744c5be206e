package vector

import (
	"fmt"
)

// LabeledPoint is a single training example. It is not modified after
// construction; training code only reads Features.
type LabeledPoint struct {
	Label    float64
	Features Vector
}

// NewLabeledPoint copies features so the caller may reuse its slice.
func NewLabeledPoint(label float64, features ...float64) LabeledPoint {
	return LabeledPoint{
		Label:    label,
		Features: Dense(features...),
	}
}

// Dim returns the feature dimension
func (p LabeledPoint) Dim() int {
	return len(p.Features)
}

func (p LabeledPoint) String() string {
	return fmt.Sprintf("(%g,%v)", p.Label, []float64(p.Features))
}
