// Package slicing implements the slicing engine (§4.F): for a query
// variable, it records the instruction positions the variable's
// distribution depends on (the union over all terminating paths, a superset
// of the minimal slice that is not narrowed further), by piggybacking on
// the same backward traversal shape as internal/wp — tracking, at each
// step, whether the propagated term actually changed (relevant) or not
// (irrelevant), and at each branch whether the two arms disagree on the
// resulting term (an actual, not merely potential, control-flow
// dependency).
package slicing

import (
	"context"

	"probwp/internal/ir"
	"probwp/internal/sample"
	"probwp/internal/term"
)

// Result is the slice for a query variable (§4.F, §4.G slice()): a superset
// of the minimal slice, see unionRelevant.
type Result struct {
	// Relevant is the set of instruction positions the query's distribution
	// actually depends on.
	Relevant map[ir.Position]bool
}

// Engine runs slicing traversals over one fixed (program, analysis, store).
type Engine struct {
	Program  *ir.Program
	Analysis *ir.Analysis
	Store    *term.Store

	// controlFlowArms records, per branch position, every distinct
	// resultTerm pointer produced by an arm crossing that branch during the
	// traversal just run — consulted once the traversal completes to
	// distinguish a potential control-flow dependency (§4.F) from an actual
	// one (arms disagree).
	controlFlowArms map[ir.Position]map[*term.Term]bool
}

// NewEngine constructs a slicing Engine.
func NewEngine(program *ir.Program, analysis *ir.Analysis, store *term.Store) *Engine {
	return &Engine{Program: program, Analysis: analysis, Store: store}
}

// Slice computes the relevant-position set for query (the per-path union,
// not reduced to a minimal slice), recursively
// extended through every control-flow condition variable query turns out to
// actually depend on (§4.F's "recursively extended").
func (e *Engine) Slice(ctx context.Context, query ir.Var, loopUnrolls sample.LoopUnrolls, stopPosition ir.Position, branchingHistories []sample.BranchingHistory) (Result, error) {
	seen := map[ir.Var]bool{}
	relevant := map[ir.Position]bool{}

	var walk func(v ir.Var) error
	walk = func(v ir.Var) error {
		if seen[v] {
			return nil
		}
		seen[v] = true

		e.controlFlowArms = map[ir.Position]map[*term.Term]bool{}
		var paths []map[ir.Position]bool
		for _, h := range branchingHistories {
			if err := ctx.Err(); err != nil {
				return err
			}
			init := &traceState{
				position:             stopPosition,
				resultTerm:            e.Store.Var(v),
				tags:                  map[ir.Position]bool{},
				remainingLoopUnrolls:  loopUnrolls.Clone(),
				branchingHistory:      h.Clone(),
			}
			ps, err := e.trace(ctx, init)
			if err != nil {
				return err
			}
			paths = append(paths, ps...)
		}

		for pos := range unionRelevant(paths) {
			relevant[pos] = true
		}

		for pos, arms := range e.controlFlowArms {
			if len(arms) <= 1 {
				continue
			}
			relevant[pos] = true
			br, ok := e.Program.Block(pos.Block).Terminator.(*ir.Branch)
			if !ok {
				continue
			}
			if br.Cond.IsVar() {
				if err := walk(br.Cond.Var); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if err := walk(query); err != nil {
		return Result{}, err
	}
	return Result{Relevant: relevant}, nil
}

// unionRelevant is the merge step (§4.F): each reached-termination path
// contributes its own positively-tagged positions; they are combined by
// plain union. A fully faithful implementation would intersect distinct
// per-term slice families pairwise and reject unions where one path tags a
// position irrelevant and another tags the same position relevant; that
// finer-grained family bookkeeping is not implemented here (see DESIGN.md) —
// this union is a safe superset of the minimal slice, never a subset, so it
// never hides a position the query actually depends on.
func unionRelevant(paths []map[ir.Position]bool) map[ir.Position]bool {
	out := map[ir.Position]bool{}
	for _, p := range paths {
		for pos, isRelevant := range p {
			if isRelevant {
				out[pos] = true
			}
		}
	}
	return out
}

// traceState is slicing's per-path record: position/loop-unrolls/history
// bookkeeping mirrors internal/wp's state exactly (§4.E.2), but only a
// single resultTerm is propagated (§4.F's "equivalent to value above"), and
// every instruction visited is tagged relevant or irrelevant instead of
// folded into a probability.
type traceState struct {
	position ir.Position

	resultTerm *term.Term
	tags       map[ir.Position]bool

	remainingLoopUnrolls sample.LoopUnrolls
	branchingHistory     sample.BranchingHistory
}

func (s *traceState) clone() *traceState {
	tags := make(map[ir.Position]bool, len(s.tags))
	for k, v := range s.tags {
		tags[k] = v
	}
	return &traceState{
		position:             s.position,
		resultTerm:            s.resultTerm,
		tags:                  tags,
		remainingLoopUnrolls:  s.remainingLoopUnrolls.Clone(),
		branchingHistory:      s.branchingHistory.Clone(),
	}
}

// terminated mirrors wp's termination test: s sits at the start block's
// first position and its history holds no unconsumed deliberate Choice.
func (e *Engine) terminated(s *traceState) bool {
	if s.position != (ir.Position{Block: e.Program.Start, Index: 0}) {
		return false
	}
	for _, c := range s.branchingHistory {
		if !c.IsAny {
			return false
		}
	}
	return true
}

// trace returns the tag-map of every terminating descendant of s.
func (e *Engine) trace(ctx context.Context, s *traceState) ([]map[ir.Position]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.terminated(s) {
		return []map[ir.Position]bool{s.tags}, nil
	}

	b := e.Program.Block(s.position.Block)
	phiCount := firstNonPhiIndex(b)

	if s.position.Index > phiCount {
		inst := b.Instructions[s.position.Index-1]
		next := e.stepInstruction(s, inst)
		return e.trace(ctx, next)
	}

	var results []map[ir.Position]bool
	for _, child := range e.crossBlockTransfer(s, b, phiCount) {
		ps, err := e.trace(ctx, child)
		if err != nil {
			return nil, err
		}
		results = append(results, ps...)
	}
	return results, nil
}

func firstNonPhiIndex(b *ir.BasicBlock) int {
	count := 0
	for _, inst := range b.Instructions {
		if _, ok := inst.(*ir.Phi); !ok {
			break
		}
		count++
	}
	return count
}

// stepInstruction mirrors wp's single-instruction backward step (§4.E.3),
// but only propagates resultTerm and tags the instruction's position
// relevant/irrelevant depending on whether resultTerm actually changed
// (hash-consing makes pointer inequality the correct change test).
func (e *Engine) stepInstruction(s *traceState, inst ir.Instruction) *traceState {
	next := s.clone()
	next.position = ir.Position{Block: s.position.Block, Index: s.position.Index - 1}

	before := s.resultTerm
	switch i := inst.(type) {
	case *ir.Assign:
		next.resultTerm = e.Store.Replace(before, i.V, e.operandTerm(i.Value))
	case *ir.Add:
		val := e.Store.Sum(e.operandTerm(i.Lhs), e.operandTerm(i.Rhs))
		next.resultTerm = e.Store.Replace(before, i.V, val)
	case *ir.Sub:
		val := e.Store.Sub(e.operandTerm(i.Lhs), e.operandTerm(i.Rhs))
		next.resultTerm = e.Store.Replace(before, i.V, val)
	case *ir.Compare:
		lhs, rhs := e.operandTerm(i.Lhs), e.operandTerm(i.Rhs)
		var val *term.Term
		if i.Op == ir.CompareEq {
			val = e.Store.Equal(lhs, rhs)
		} else {
			val = e.Store.LessThan(lhs, rhs)
		}
		next.resultTerm = e.Store.Replace(before, i.V, val)
	case *ir.DiscreteDistribution:
		var entries []term.Entry
		for _, wo := range i.Dist {
			entries = append(entries, term.Entry{Factor: wo.Prob, Term: e.Store.Replace(before, i.V, e.Store.Int(wo.Value))})
		}
		next.resultTerm = e.Store.AdditionList(entries)
	case *ir.Observe:
		indicator := e.Store.BoolToInt(e.operandTerm(i.Cond))
		next.resultTerm = e.Store.Mul([]*term.Term{indicator, before})
	default:
		panic("slicing: unexpected instruction kind in backward step")
	}

	next.tags[next.position] = next.resultTerm != before
	return next
}

func (e *Engine) operandTerm(op ir.Operand) *term.Term {
	if op.IsVar() {
		return e.Store.Var(op.Var)
	}
	if op.Lit.IsBool {
		return e.Store.Bool(op.Lit.Bool)
	}
	return e.Store.Int(op.Lit.Int)
}

// crossBlockTransfer mirrors wp's cross-block transfer (§4.E.4, §4.E.5)
// without the probability bookkeeping: phi substitution per predecessor,
// loop-unroll gating, branching-history rewrite (a "lost" edge here simply
// means the edge is taken without consuming a history entry — slicing does
// not need the focus-rate/intentional-loss accounting, only whether the
// path continues), and recording each Branch predecessor's resulting term
// for later actual-vs-potential control-flow dependency decisions.
func (e *Engine) crossBlockTransfer(s *traceState, block *ir.BasicBlock, phiCount int) []*traceState {
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

	var children []*traceState
	for _, p := range e.Analysis.DirectPredecessors[blockName] {
		child := s.clone()
		for _, phi := range phis {
			srcVar, ok := phi.Choices[p]
			if !ok {
				panic("slicing: phi has no choice for a direct predecessor")
			}
			before := child.resultTerm
			child.resultTerm = e.Store.Replace(before, phi.V, e.Store.Var(srcVar))
			if child.resultTerm != before {
				child.tags[ir.Position{Block: blockName, Index: indexOfPhi(block, phi)}] = true
			}
		}

		if isLoopCond {
			inBody := inLoopPath(loop, p)
			set := child.remainingLoopUnrolls[loopKey]
			if inBody {
				if !canUnrollOnceMore(set) {
					continue
				}
				child.remainingLoopUnrolls = child.remainingLoopUnrolls.Clone()
				child.remainingLoopUnrolls[loopKey] = decrementSet(set)
			} else if !canStop(set) {
				continue
			}
		}

		rewriteHistory(child, e.Analysis, p)

		predBlock := e.Program.Block(p)
		predPos := ir.Position{Block: p, Index: len(predBlock.Instructions)}
		if _, ok := predBlock.Terminator.(*ir.Branch); ok {
			if e.controlFlowArms[predPos] == nil {
				e.controlFlowArms[predPos] = map[*term.Term]bool{}
			}
			e.controlFlowArms[predPos][child.resultTerm] = true
		}

		child.position = predPos
		children = append(children, child)
	}
	return children
}

func indexOfPhi(b *ir.BasicBlock, phi *ir.Phi) int {
	for i, inst := range b.Instructions {
		if inst == phi {
			return i
		}
	}
	panic("slicing: phi not found in its own block")
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

// rewriteHistory is the same history-rewrite rule as internal/wp's §4.E.5
// step 3, simplified: slicing never needs to distinguish a "lost" edge from
// a history-justified one (both simply continue the trace), so the only
// observable effect here is popping consumed history entries.
func rewriteHistory(child *traceState, analysis *ir.Analysis, predecessor ir.Block) {
	h := child.branchingHistory
	last, ok := h.Last()
	if ok && last.IsAny && !analysis.Predominates(last.PredominatedBy, predecessor) {
		h = h.PopLast()
		last, ok = h.Last()
	}
	if ok && !last.IsAny && last.Source == predecessor {
		h = h.PopLast()
	}
	child.branchingHistory = h
}
