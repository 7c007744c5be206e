package dataset

import (
	"math/rand/v2"
)

// Sampler makes independent Bernoulli keep/drop decisions for the records of
// one partition. Samplers for different partitions share no state.
type Sampler struct {
	fraction float64
	rng      *rand.Rand
}

// NewSampler seeds a sampler from the job seed and the partition index so a
// fixed seed and partitioning always select the same records.
func NewSampler(fraction float64, seed int64, partition int) *Sampler {
	s := &Sampler{fraction: fraction}
	if fraction > 0 && fraction < 1 {
		s.rng = rand.New(rand.NewPCG(uint64(seed), uint64(partition)+0x9e3779b97f4a7c15))
	}
	return s
}

// Keep reports whether the next record belongs to the sample
func (s *Sampler) Keep() bool {
	switch {
	case s.fraction >= 1:
		return true
	case s.fraction <= 0:
		return false
	default:
		return s.rng.Float64() < s.fraction
	}
}
