package wp

import (
	"probwp/internal/ir"
	"probwp/internal/sample"
	"probwp/internal/term"
)

// crossBlockTransfer is §4.E.5 (and, for the phi run immediately preceding
// it, §4.E.4): s sits at the first non-phi instruction of its block. For
// every direct predecessor this produces zero or one child state positioned
// at that predecessor's terminator, after: consuming the block's phis
// (substituted per-predecessor, since different predecessors select
// different phi sources), gating/decrementing loop-unroll counts, rewriting
// branching history (creating a "lost" state where history and edge
// disagree), and applying the predecessor terminator's branch/jump
// semantics.
func (e *Engine) crossBlockTransfer(s *state, block *ir.BasicBlock, phiCount int) []*state {
	blockName := s.position.Block
	phis := make([]*ir.Phi, phiCount)
	for i := 0; i < phiCount; i++ {
		phis[i] = block.Instructions[i].(*ir.Phi)
	}

	var loop ir.Loop
	isLoopCond := e.Analysis.IsLoopCondition(blockName)
	if isLoopCond {
		loop, _ = e.Analysis.LoopOf(blockName)
	}
	loopKey := sample.LoopKey{Condition: loop.Condition, BodyStart: loop.BodyStart}

	var children []*state
	for _, p := range e.Analysis.DirectPredecessors[blockName] {
		child := e.withPhisSubstituted(s, phis, p)

		if isLoopCond {
			if inLoopPath(loop, p) {
				// Body-return edge: unrolling this loop one more time.
				set := child.remainingLoopUnrolls[loopKey]
				if !canUnrollOnceMore(set) {
					continue
				}
				child.remainingLoopUnrolls = child.remainingLoopUnrolls.Clone()
				child.remainingLoopUnrolls[loopKey] = decrementSet(set)
			} else {
				// Preheader edge: only valid where a path could legitimately
				// stop unrolling here.
				if !canStop(child.remainingLoopUnrolls[loopKey]) {
					continue
				}
			}
		}

		predBlock := e.Program.Block(p)
		br, isBranch := predBlock.Terminator.(*ir.Branch)

		lost, lostAmount := e.rewriteHistory(child, p, blockName, br, isBranch)

		if lost {
			child.value = e.Store.Int(0)
			child.observeSatRate = e.Store.Int(0)
			child.focusRate = lostAmount
			child.intentionalLossRate = e.Store.Sum(child.intentionalLossRate, lostAmount)
		}

		if isBranch {
			takenTrue := br.TrueTarget == blockName
			indicator := e.branchIndicator(br, takenTrue)
			child.value = e.Store.Mul([]*term.Term{indicator, child.value})
			if !lost {
				child.focusRate = e.Store.Mul([]*term.Term{indicator, child.focusRate})
			}
			child.ignoringFocusRate = e.Store.Mul([]*term.Term{indicator, child.ignoringFocusRate})
			child.observeSatRate = e.Store.Mul([]*term.Term{indicator, child.observeSatRate})
		}

		child.position = ir.Position{Block: p, Index: len(predBlock.Instructions)}
		child.previousBlock = blockName

		for b := range child.generateLostStatesForBlocks {
			if e.Analysis.Postdominates(p, b) {
				delete(child.generateLostStatesForBlocks, b)
			}
		}

		children = append(children, child)
	}
	return children
}

func (e *Engine) withPhisSubstituted(s *state, phis []*ir.Phi, predecessor ir.Block) *state {
	c := s.clone()
	c.position = ir.Position{Block: s.position.Block, Index: 0}
	for _, phi := range phis {
		srcVar, ok := phi.Choices[predecessor]
		if !ok {
			panic("wp: phi has no choice for a direct predecessor")
		}
		val := e.Store.Var(srcVar)
		c.value = e.Store.Replace(c.value, phi.V, val)
		c.focusRate = e.Store.Replace(c.focusRate, phi.V, val)
		c.ignoringFocusRate = e.Store.Replace(c.ignoringFocusRate, phi.V, val)
		c.observeSatRate = e.Store.Replace(c.observeSatRate, phi.V, val)
		c.intentionalLossRate = e.Store.Replace(c.intentionalLossRate, phi.V, val)
	}
	return c
}

func inLoopPath(loop ir.Loop, b ir.Block) bool {
	for _, p := range loop.Path {
		if p == b {
			return true
		}
	}
	return false
}

func canStop(set map[int]bool) bool { return set[0] }

func canUnrollOnceMore(set map[int]bool) bool {
	for n := range set {
		if n > 0 {
			return true
		}
	}
	return false
}

func decrementSet(set map[int]bool) map[int]bool {
	out := map[int]bool{}
	for n := range set {
		if n > 0 {
			out[n-1] = true
		}
	}
	return out
}

// rewriteHistory is §4.E.5 step 3. It mutates child.branchingHistory in
// place and reports whether this edge disagrees with the recorded history
// (a "lost" state) along with the focus-rate amount that transform produces.
func (e *Engine) rewriteHistory(child *state, predecessor, block ir.Block, br *ir.Branch, isBranch bool) (bool, *term.Term) {
	h := child.branchingHistory
	last, ok := h.Last()

	if ok && last.IsAny && !e.Analysis.Predominates(last.PredominatedBy, predecessor) {
		h = h.PopLast()
		last, ok = h.Last()
	}

	switch {
	case ok && !last.IsAny && last.Source == predecessor && last.Target == block:
		child.branchingHistory = h.PopLast()
		return false, nil
	case ok && last.IsAny && e.Analysis.Predominates(last.PredominatedBy, predecessor):
		child.branchingHistory = h
		return false, nil
	default:
		child.branchingHistory = h
		if !isBranch {
			return true, child.focusRate
		}
		takenTrue := br.TrueTarget == block
		indicator := e.branchIndicator(br, takenTrue)
		amount := e.Store.Mul([]*term.Term{indicator, child.focusRate})
		return true, amount
	}
}

// branchIndicator builds BoolToInt of br's condition (or its negation) —
// the symbolic 0/1 weight of the edge that leads to the taken target.
func (e *Engine) branchIndicator(br *ir.Branch, takenTrue bool) *term.Term {
	cond := e.operandTerm(br.Cond)
	if !takenTrue {
		cond = e.Store.Not(cond)
	}
	return e.Store.BoolToInt(cond)
}
