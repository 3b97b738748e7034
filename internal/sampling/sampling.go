// Package sampling provides the seedable random source and the weighted
// distribution the circuit generator draws relays from.
//
// A Source is owned by exactly one simulation run (or one order stream in
// parallel mode) and must be threaded through every draw, never recreated
// between batches.
package sampling

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// Source yields uniform floats in [0, 1).
type Source interface {
	Float64() float64
}

// NewSource returns a deterministic source for seed.
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 0))
}

// NewStream returns the independent source for one partition of a seeded run.
// Streams with the same seed and different ids do not overlap in practice.
func NewStream(seed, id uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, id+1))
}

// Errors returned by NewDistribution.
var (
	ErrNoWeights      = errors.New("empty weight vector")
	ErrNegativeWeight = errors.New("negative or non-finite weight")
	ErrZeroSum        = errors.New("weights sum to zero")
)

// Distribution draws indices proportionally to a probability vector.
type Distribution struct {
	cumulative []float64
}

// NewDistribution prepares a distribution from non-negative weights. The
// weights need not be normalized.
func NewDistribution(weights []float64) (*Distribution, error) {
	if len(weights) == 0 {
		return nil, ErrNoWeights
	}
	cumulative := make([]float64, len(weights))
	var total float64
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("weight %d = %v: %w", i, w, ErrNegativeWeight)
		}
		total += w
		cumulative[i] = total
	}
	if total == 0 {
		return nil, ErrZeroSum
	}
	for i := range cumulative {
		cumulative[i] /= total
	}
	// Guard against rounding leaving the last bucket short of 1.
	cumulative[len(cumulative)-1] = 1
	return &Distribution{cumulative: cumulative}, nil
}

// Len returns the number of outcomes.
func (d *Distribution) Len() int {
	return len(d.cumulative)
}

// Draw returns one index. Outcomes with zero weight are never returned.
func (d *Distribution) Draw(src Source) int {
	u := src.Float64()
	i := sort.Search(len(d.cumulative), func(i int) bool { return d.cumulative[i] > u })
	if i == len(d.cumulative) {
		i--
	}
	return i
}

// DrawN returns n independent draws with replacement.
func (d *Distribution) DrawN(src Source, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = d.Draw(src)
	}
	return out
}
