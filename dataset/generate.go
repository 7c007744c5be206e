package dataset

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/npanj/spark/vector"
)

// GenerateLogisticInput draws nPoints examples with one standard normal
// feature x and label 1 with probability sigmoid(offset + scale*x).
func GenerateLogisticInput(offset, scale float64, nPoints int, seed uint64) []vector.LabeledPoint {
	src := rand.NewPCG(seed, seed^0x5851f42d4c957f2d)
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	uniform := distuv.Uniform{Min: 0, Max: 1, Src: src}

	points := make([]vector.LabeledPoint, nPoints)
	for i := range points {
		x := normal.Rand()
		p := 1.0 / (1.0 + math.Exp(-(offset + scale*x)))
		label := 0.0
		if uniform.Rand() < p {
			label = 1.0
		}
		points[i] = vector.NewLabeledPoint(label, x)
	}
	return points
}

// GenerateWideInput draws nPoints examples with nFeatures uniform features
// and alternating labels. It exists to exercise very wide models.
func GenerateWideInput(nPoints, nFeatures int, seed uint64) []vector.LabeledPoint {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	points := make([]vector.LabeledPoint, nPoints)
	for i := range points {
		features := vector.Zeros(nFeatures)
		for j := range features {
			features[j] = rng.Float64()
		}
		points[i] = vector.LabeledPoint{Label: float64(i % 2), Features: features}
	}
	return points
}

// Features strips labels, keeping partitioning unchanged.
func Features(c *InMemory[vector.LabeledPoint]) *InMemory[vector.Vector] {
	parts := make([][]vector.Vector, c.NumPartitions())
	for i, p := range c.parts {
		parts[i] = make([]vector.Vector, len(p.items))
		for j, lp := range p.items {
			parts[i][j] = lp.Features
		}
	}
	return FromPartitions(parts)
}
