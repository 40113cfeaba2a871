package sample

import (
	"fmt"

	"github.com/pkg/errors"
)

// Merge combines states that must all share the same Position (§4.C State
// merging): sample lists concatenate, loop_unrolls union per loop, and
// branching histories concatenate (a flat OR of paths). Merging states at
// differing positions is a programmer error (§3 Invariants: "all samples at
// a merge point share the same position").
func Merge(states []*State) *State {
	if len(states) == 0 {
		panic("sample: Merge called with no states")
	}
	pos := states[0].Position
	var samples []*Sample
	unrolls := LoopUnrolls{}
	var histories []BranchingHistory
	for _, st := range states {
		if st.Position != pos {
			panic(errors.Wrap(fmt.Errorf("merge: position mismatch %s vs %s", pos, st.Position), "sample: invariant violation"))
		}
		samples = append(samples, st.Samples...)
		unrolls = Union(unrolls, st.LoopUnrolls)
		histories = append(histories, st.BranchingHistories...)
	}
	return &State{
		Position:           pos,
		Samples:            samples,
		LoopUnrolls:        unrolls,
		BranchingHistories: histories,
	}
}
