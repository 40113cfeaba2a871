// Package sample holds the forward executor's data model: concrete
// samples, execution state, loop-unroll bookkeeping, and branching history
// (§3).
package sample

import (
	"fmt"
	"sort"

	"probwp/internal/ir"
)

// Value is a concrete int or bool value held by a Sample.
type Value struct {
	IsBool bool
	Int    int
	Bool   bool
}

func IntValue(n int) Value  { return Value{Int: n} }
func BoolValue(b bool) Value { return Value{IsBool: true, Bool: b} }

func (v Value) String() string {
	if v.IsBool {
		return fmt.Sprintf("%t", v.Bool)
	}
	return fmt.Sprintf("%d", v.Int)
}

func (v Value) Equal(o Value) bool {
	if v.IsBool != o.IsBool {
		return false
	}
	if v.IsBool {
		return v.Bool == o.Bool
	}
	return v.Int == o.Int
}

// Sample is a mapping from IR variable to concrete value, plus a stable
// integer id used only for internal bookkeeping (never serialized, §3).
type Sample struct {
	ID     int
	Values map[ir.Var]Value
}

// Clone returns a deep copy of the sample (each sample is logically
// independent once branches diverge).
func (s *Sample) Clone() *Sample {
	values := make(map[ir.Var]Value, len(s.Values))
	for k, v := range s.Values {
		values[k] = v
	}
	return &Sample{ID: s.ID, Values: values}
}

func (s *Sample) With(v ir.Var, val Value) *Sample {
	c := s.Clone()
	c.Values[v] = val
	return c
}

// LoopKey identifies a tracked loop by its (condition block, body-start
// block) pair (§3).
type LoopKey struct {
	Condition ir.Block
	BodyStart ir.Block
}

// LoopUnrolls maps a tracked loop to the set of natural numbers recording
// how many times it has been traversed along distinct merged branches (§3).
type LoopUnrolls map[LoopKey]map[int]bool

// Clone deep-copies the loop-unroll bookkeeping.
func (lu LoopUnrolls) Clone() LoopUnrolls {
	out := make(LoopUnrolls, len(lu))
	for k, set := range lu {
		s2 := make(map[int]bool, len(set))
		for n := range set {
			s2[n] = true
		}
		out[k] = s2
	}
	return out
}

// Increment returns a copy of lu with every count in loop's set mapped to
// count+1 (§4.C, taken on the true side of a loop-inducing branch).
func (lu LoopUnrolls) Increment(loop LoopKey) LoopUnrolls {
	out := lu.Clone()
	set := out[loop]
	incremented := make(map[int]bool, len(set))
	for n := range set {
		incremented[n+1] = true
	}
	out[loop] = incremented
	return out
}

// Union merges two loop-unroll maps by taking, per loop, the union of their
// count sets (§4.C State merging).
func Union(a, b LoopUnrolls) LoopUnrolls {
	out := a.Clone()
	for k, set := range b {
		existing, ok := out[k]
		if !ok {
			existing = map[int]bool{}
		} else {
			existing = cloneIntSet(existing)
		}
		for n := range set {
			existing[n] = true
		}
		out[k] = existing
	}
	return out
}

func cloneIntSet(s map[int]bool) map[int]bool {
	out := make(map[int]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

// SortedCounts returns the set's members in ascending order, for
// deterministic iteration/printing.
func SortedCounts(set map[int]bool) []int {
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// BranchingChoice is a tagged union: either a deliberate Choice(source,
// target) edge, or an Any(predominatedBy) collapse of an arbitrary number of
// non-deliberate branches (§3).
type BranchingChoice struct {
	IsAny          bool
	Source, Target ir.Block // Choice
	PredominatedBy ir.Block // Any
}

func Choice(source, target ir.Block) BranchingChoice {
	return BranchingChoice{Source: source, Target: target}
}

func Any(predominatedBy ir.Block) BranchingChoice {
	return BranchingChoice{IsAny: true, PredominatedBy: predominatedBy}
}

// BranchingHistory is a prefix-ordered sequence of branching choices (§3).
type BranchingHistory []BranchingChoice

// Clone returns an independent copy.
func (h BranchingHistory) Clone() BranchingHistory {
	return append(BranchingHistory{}, h...)
}

// Append returns a new history with c appended.
func (h BranchingHistory) Append(c BranchingChoice) BranchingHistory {
	return append(h.Clone(), c)
}

// Last returns the final choice and true, or the zero value and false if h
// is empty.
func (h BranchingHistory) Last() (BranchingChoice, bool) {
	if len(h) == 0 {
		return BranchingChoice{}, false
	}
	return h[len(h)-1], true
}

// PopLast returns h with its last element removed.
func (h BranchingHistory) PopLast() BranchingHistory {
	if len(h) == 0 {
		return h
	}
	return h[:len(h)-1]
}

// State is the forward executor's execution state: (position, samples,
// loop_unrolls, branching_histories) (§3).
type State struct {
	Position          ir.Position
	Samples           []*Sample
	LoopUnrolls       LoopUnrolls
	BranchingHistories []BranchingHistory
}

// Clone deep-copies everything reachable from the state (samples, unroll
// sets, histories) so that diverging branches never alias each other.
func (st *State) Clone() *State {
	samples := make([]*Sample, len(st.Samples))
	for i, s := range st.Samples {
		samples[i] = s.Clone()
	}
	histories := make([]BranchingHistory, len(st.BranchingHistories))
	for i, h := range st.BranchingHistories {
		histories[i] = h.Clone()
	}
	return &State{
		Position:           st.Position,
		Samples:            samples,
		LoopUnrolls:        st.LoopUnrolls.Clone(),
		BranchingHistories: histories,
	}
}
