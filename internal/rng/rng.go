// Package rng provides the seeded random streams behind every stochastic
// decision in the simulation. Each subsystem derives its own stream from the
// world seed plus a fixed offset, so replaying a seed reproduces the exact
// same sequence regardless of how other subsystems consume randomness.
package rng

import "math/rand"

// Stream offsets. Each subsystem gets its own deterministic sequence.
const (
	OffsetTown      int64 = 100
	OffsetAgents    int64 = 300
	OffsetDecisions int64 = 500
	OffsetTopics    int64 = 700
	OffsetDialogue  int64 = 900
	OffsetKernel    int64 = 1100
)

// New creates a deterministic random stream for one subsystem.
func New(seed, offset int64) *rand.Rand {
	return rand.New(rand.NewSource(seed + offset))
}

// IntBetween returns a uniform int in [min, max] inclusive.
// Degenerate ranges collapse to min.
func IntBetween(r *rand.Rand, min, max int) int {
	if max <= min {
		return min
	}
	return min + r.Intn(max-min+1)
}

// Chance returns true with probability p.
func Chance(r *rand.Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return r.Float64() < p
}

// Pick returns a uniformly chosen index into a collection of size n, or -1
// when the collection is empty.
func Pick(r *rand.Rand, n int) int {
	if n <= 0 {
		return -1
	}
	return r.Intn(n)
}
