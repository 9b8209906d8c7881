package sim

import (
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
)

const golden = 0x9E3779B97F4A7C15

// DeriveSeed returns the seed for the step that leaves slice t of a run.
//
// The run id is hashed with xxhash64, XORed with t times the 64-bit golden
// ratio and passed through the splitmix64 finalizer. Every stage is a
// bijection on uint64 for a fixed run id, so distinct t give distinct seeds.
func DeriveSeed(runID string, t int) uint64 {
	return mix64(xxhash.Sum64String(runID) ^ (uint64(t) * golden))
}

// NewSource returns a PCG generator fully determined by seed.
func NewSource(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, mix64(seed+golden)))
}

// SourceFor is NewSource(DeriveSeed(runID, t)).
func SourceFor(runID string, t int) *rand.Rand {
	return NewSource(DeriveSeed(runID, t))
}

// mix64 is the splitmix64 finalizer.
func mix64(z uint64) uint64 {
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
