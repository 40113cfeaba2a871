// Package wp implements the symbolic weakest-preexpectation inference
// engine (§4.E): backward propagation of a symbolic term from a program
// point to program start, conditioned on branching history and bounded by
// forward-derived loop-unroll counts.
package wp

import (
	"probwp/internal/ir"
	"probwp/internal/sample"
	"probwp/internal/term"
)

// state is the engine's mutable per-path inference record (§4.E.2). Beyond
// the fields §4.E.2 names explicitly (term, focus_rate,
// observe_deliberate_ignoring_focus_rate, remaining_loop_unrolls,
// branching_history, generate_lost_states_for_blocks, previous_block), it
// also tracks observeSatRate and intentionalLossRate: both are required by
// §4.E.3's Observe step and §4.E.9's final assembly, which reference them
// by name, even though §4.E.2's own field list omits them — treated here as
// first-class state alongside the other rate terms, since both are updated
// by exactly the same substitution/expectation rules the named rates are.
type state struct {
	position ir.Position

	value               *term.Term
	focusRate           *term.Term
	ignoringFocusRate   *term.Term
	observeSatRate      *term.Term
	intentionalLossRate *term.Term

	remainingLoopUnrolls sample.LoopUnrolls
	branchingHistory     sample.BranchingHistory

	generateLostStatesForBlocks map[ir.Block]bool
	previousBlock               ir.Block
}

func (s *state) clone() *state {
	return &state{
		position:                    s.position,
		value:                       s.value,
		focusRate:                   s.focusRate,
		ignoringFocusRate:           s.ignoringFocusRate,
		observeSatRate:              s.observeSatRate,
		intentionalLossRate:         s.intentionalLossRate,
		remainingLoopUnrolls:        s.remainingLoopUnrolls.Clone(),
		branchingHistory:            s.branchingHistory.Clone(),
		generateLostStatesForBlocks: cloneBlockSet(s.generateLostStatesForBlocks),
		previousBlock:               s.previousBlock,
	}
}

func cloneBlockSet(set map[ir.Block]bool) map[ir.Block]bool {
	out := make(map[ir.Block]bool, len(set))
	for k := range set {
		out[k] = true
	}
	return out
}

// aggregate is the summed contribution of every terminating descendant of a
// state (§4.E.6: "results from all terminating states are summed").
type aggregate struct {
	value               *term.Term
	focusRate           *term.Term
	ignoringFocusRate   *term.Term
	observeSatRate      *term.Term
	intentionalLossRate *term.Term
}

func aggregateFrom(s *state) aggregate {
	return aggregate{
		value:               s.value,
		focusRate:           s.focusRate,
		ignoringFocusRate:   s.ignoringFocusRate,
		observeSatRate:      s.observeSatRate,
		intentionalLossRate: s.intentionalLossRate,
	}
}

func zeroAggregate(s *term.Store) aggregate {
	z := s.Int(0)
	return aggregate{value: z, focusRate: z, ignoringFocusRate: z, observeSatRate: z, intentionalLossRate: z}
}

func sumAggregate(s *term.Store, a, b aggregate) aggregate {
	return aggregate{
		value:               s.Sum(a.value, b.value),
		focusRate:           s.Sum(a.focusRate, b.focusRate),
		ignoringFocusRate:   s.Sum(a.ignoringFocusRate, b.ignoringFocusRate),
		observeSatRate:      s.Sum(a.observeSatRate, b.observeSatRate),
		intentionalLossRate: s.Sum(a.intentionalLossRate, b.intentionalLossRate),
	}
}

func scaleAggregate(s *term.Store, a aggregate, factor float64) aggregate {
	return aggregate{
		value:               s.Scale(a.value, factor),
		focusRate:           s.Scale(a.focusRate, factor),
		ignoringFocusRate:   s.Scale(a.ignoringFocusRate, factor),
		observeSatRate:      s.Scale(a.observeSatRate, factor),
		intentionalLossRate: s.Scale(a.intentionalLossRate, factor),
	}
}
