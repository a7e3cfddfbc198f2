// Package rng provides the deterministic randomness the generation layer is
// built on: a 32-bit xorshift stream and a seed mixer that folds generation
// coordinates and a label into a single reproducible seed.
//
// Every generation decision in the engine flows through this package. The
// constants are part of the world format: changing any of them changes every
// world ever generated.
package rng

const (
	fnvOffset32 = 0x811C9DC5
	fnvPrime32  = 0x01000193

	// Substituted when a stream would otherwise be seeded with zero,
	// since xorshift32 has a fixed point at state 0.
	zeroSeedSubstitute = 0x9E3779B9
)

// Mix folds the given 32-bit values in order, then each byte of label, with
// FNV-1a and finishes with an avalanche pass. Identical inputs yield the
// same seed on every host.
func Mix(label string, nums ...uint32) uint32 {
	h := uint32(fnvOffset32)
	for _, n := range nums {
		h = (h ^ (n & 0xFF)) * fnvPrime32
		h = (h ^ ((n >> 8) & 0xFF)) * fnvPrime32
		h = (h ^ ((n >> 16) & 0xFF)) * fnvPrime32
		h = (h ^ ((n >> 24) & 0xFF)) * fnvPrime32
	}
	for i := 0; i < len(label); i++ {
		h = (h ^ uint32(label[i])) * fnvPrime32
	}
	return avalanche(h)
}

// avalanche spreads entropy across all 32 bits of h.
func avalanche(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x7FEB352D
	h ^= h >> 15
	h *= 0x846CA68B
	h ^= h >> 16
	return h
}

// Stream is a xorshift32 generator with the (13, 17, 5) shift triple.
type Stream struct {
	state uint32
}

// New returns a stream seeded with seed, substituting a fixed non-zero
// constant when seed is zero.
func New(seed uint32) *Stream {
	if seed == 0 {
		seed = zeroSeedSubstitute
	}
	return &Stream{state: seed}
}

// Uint32 advances the stream and returns the next 32-bit value.
func (s *Stream) Uint32() uint32 {
	x := s.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	s.state = x
	return x
}

// IntN returns an integer in [min, max), or min when max <= min.
func (s *Stream) IntN(min, max int) int {
	if max <= min {
		return min
	}
	return min + int(s.Uint32()%uint32(max-min))
}

// Float01 returns a fraction in [0, 1], dividing by 2^32-1.
func (s *Stream) Float01() float64 {
	return float64(s.Uint32()) / 4294967295.0
}

// Shuffle permutes n elements in place with Fisher-Yates, using swap to
// exchange elements i and j.
func (s *Stream) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := s.IntN(0, i+1)
		swap(i, j)
	}
}
