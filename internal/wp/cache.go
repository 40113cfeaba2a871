package wp

import (
	"fmt"
	"sort"
	"strings"

	"probwp/internal/ir"
	"probwp/internal/sample"
	"probwp/internal/term"
)

// normalize implements §4.E.8's query normalization: at a loop-inducing
// block's first-non-phi position, try to factor the focus rate into
// (constant c) * rest, and proceed (and cache) on the rescaled state, so
// that queries differing only by a constant multiplier on focus rate share
// one cache entry. Returns the state to actually recurse on, the factor to
// rescale the result by on the way back out, and whether normalization
// happened at all (false means s itself should be cached/used verbatim).
func (e *Engine) normalize(s *state) (*state, float64, bool) {
	if !e.Analysis.IsLoopCondition(s.position.Block) {
		return s, 1, false
	}
	b := e.Program.Block(s.position.Block)
	if s.position.Index != firstNonPhiIndex(b) {
		return s, 1, false
	}

	factor, rest, ok := extractConstantFactor(e.Store, s.focusRate)
	if !ok || factor == 0 || factor == 1 {
		return s, 1, false
	}

	working := s.clone()
	working.focusRate = rest
	working.value = e.Store.Scale(s.value, 1/factor)
	working.ignoringFocusRate = e.Store.Scale(s.ignoringFocusRate, 1/factor)
	working.observeSatRate = e.Store.Scale(s.observeSatRate, 1/factor)
	working.intentionalLossRate = e.Store.Scale(s.intentionalLossRate, 1/factor)
	return working, factor, true
}

// extractConstantFactor recognizes three shapes of "a single constant times
// a rest": a lone numeric literal, a Mul with exactly one numeric-literal
// factor, and an unconditioned single-entry AdditionList whose factor is not
// 1. Anything else reports ok=false and the caller skips normalization.
func extractConstantFactor(s *term.Store, t *term.Term) (float64, *term.Term, bool) {
	switch t.Kind() {
	case term.KindInt, term.KindDouble:
		return t.NumericValue(), s.Int(1), true
	case term.KindMul:
		factors := t.Factors()
		var lit *term.Term
		var rest []*term.Term
		for _, f := range factors {
			if f.IsNumericLiteral() && lit == nil {
				lit = f
				continue
			}
			rest = append(rest, f)
		}
		if lit == nil {
			return 0, nil, false
		}
		return lit.NumericValue(), s.Mul(rest), true
	case term.KindAddList:
		entries := t.Entries()
		if len(entries) != 1 {
			return 0, nil, false
		}
		e := entries[0]
		if len(e.Conditions) > 0 || e.Factor == 1 {
			return 0, nil, false
		}
		return e.Factor, e.Term, true
	default:
		return 0, nil, false
	}
}

// cacheKey canonicalizes everything infer()'s result depends on. Terms are
// hash-consed per Store, so structurally-equal terms share a pointer
// (%p) — safe to use as part of the key.
func (e *Engine) cacheKey(s *state) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%p|%p|%p|%p|%p|%s|",
		s.position, s.value, s.focusRate, s.ignoringFocusRate, s.observeSatRate, s.intentionalLossRate,
		s.previousBlock)
	writeLoopUnrolls(&b, s.remainingLoopUnrolls)
	b.WriteByte('|')
	writeHistory(&b, s.branchingHistory)
	b.WriteByte('|')
	writeBlockSet(&b, s.generateLostStatesForBlocks)
	return b.String()
}

func writeLoopUnrolls(b *strings.Builder, lu sample.LoopUnrolls) {
	keys := make([]sample.LoopKey, 0, len(lu))
	for k := range lu {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Condition != keys[j].Condition {
			return keys[i].Condition < keys[j].Condition
		}
		return keys[i].BodyStart < keys[j].BodyStart
	})
	for _, k := range keys {
		fmt.Fprintf(b, "%s>%s:", k.Condition, k.BodyStart)
		for _, n := range sample.SortedCounts(lu[k]) {
			fmt.Fprintf(b, "%d,", n)
		}
		b.WriteByte(';')
	}
}

func writeHistory(b *strings.Builder, h sample.BranchingHistory) {
	for _, c := range h {
		if c.IsAny {
			fmt.Fprintf(b, "Any(%s);", c.PredominatedBy)
		} else {
			fmt.Fprintf(b, "Choice(%s->%s);", c.Source, c.Target)
		}
	}
}

func writeBlockSet(b *strings.Builder, set map[ir.Block]bool) {
	names := make([]ir.Block, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	for _, n := range names {
		fmt.Fprintf(b, "%s,", n)
	}
}
