package planner

import "math/rand/v2"

// EffectiveSeed returns seed, or a freshly drawn non-zero seed when seed is 0.
// Callers record the returned value so a run can be reproduced.
func EffectiveSeed(seed uint64) uint64 {
	for seed == 0 {
		seed = rand.Uint64()
	}
	return seed
}

// NewRand returns the random source used for shuffles and seed draws. A zero
// seed draws a fresh seed from the runtime source.
func NewRand(seed uint64) *rand.Rand {
	seed = EffectiveSeed(seed)
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
