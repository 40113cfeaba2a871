package executor

import (
	"math/rand/v2"

	"probwp/internal/ir"
)

// Seed is the debugger's PRNG seed (§5: deterministic given a seed; §6:
// seeding is part of the external interface).
type Seed [2]uint64

// Draw deterministically samples one outcome of dist for the sample with
// the given id at the given position, derived from seed. Because
// ExecuteNextInstruction is specified as a pure function of its input state
// (§4.C), the draw is not backed by a single mutable generator advanced
// across calls — it is a pure function of (seed, sample id, position),
// so re-running from any saved State (save_state/restore_state, jump_to_state)
// reproduces the same draws without needing the generator itself to be part
// of the snapshot.
func Draw(seed Seed, sampleID int, pos ir.Position, dist []ir.WeightedOutcome) int {
	mix := rand.NewPCG(seed[0]^mixPosition(pos), seed[1]^uint64(sampleID))
	r := rand.New(mix)
	roll := r.Float64()
	cumulative := 0.0
	for _, wo := range dist {
		cumulative += wo.Prob
		if roll < cumulative {
			return wo.Value
		}
	}
	// Floating point rounding may leave a negligible residual; fall back to
	// the last outcome rather than an invalid draw.
	if len(dist) == 0 {
		panic("executor: DiscreteDistribution with no outcomes")
	}
	return dist[len(dist)-1].Value
}

func mixPosition(pos ir.Position) uint64 {
	h := uint64(1469598103934665603) // FNV offset basis
	for _, r := range string(pos.Block) {
		h ^= uint64(r)
		h *= 1099511628211
	}
	h ^= uint64(pos.Index) + 1
	h *= 1099511628211
	return h
}
