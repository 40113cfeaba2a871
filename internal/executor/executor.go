// Package executor implements the forward sampling executor (§4.C): it
// advances a sample population instruction-by-instruction, recording
// branching choices and loop-unroll counts as it goes. Grounded on a
// block-stepping visitor shape adapted from AST-to-IR lowering to
// IR-to-sample stepping.
package executor

import (
	"context"
	"fmt"

	"probwp/internal/ir"
	"probwp/internal/sample"
)

// ExecuteNextInstruction advances state by exactly one instruction,
// producing its child states (§4.C). It is a pure function of its inputs:
// program and analysis are immutable and shared by reference (§5), and the
// PRNG draws it performs are themselves pure functions of (seed, sample id,
// position) — see Draw.
func ExecuteNextInstruction(program *ir.Program, analysis *ir.Analysis, seed Seed, state *sample.State) []*sample.State {
	pos := state.Position
	block := program.Block(pos.Block)

	if block.AtTerminator(pos.Index) {
		switch t := block.Terminator.(type) {
		case *ir.Jump:
			return []*sample.State{jumpInto(program, state, pos.Block, t.Target)}
		case *ir.Branch:
			return executeBranch(program, analysis, state, pos.Block, t)
		case *ir.Return:
			panic("executor: already terminated — Return has no successor instruction")
		default:
			panic(fmt.Sprintf("executor: unknown terminator %T", t))
		}
	}

	inst := block.InstructionAt(pos.Index)
	switch i := inst.(type) {
	case *ir.Assign:
		return []*sample.State{stepEachSample(state, func(s *sample.Sample) *sample.Sample {
			return s.With(i.V, evalOperand(s, i.Value))
		})}
	case *ir.Add:
		return []*sample.State{stepEachSample(state, func(s *sample.Sample) *sample.Sample {
			return s.With(i.V, sample.IntValue(evalInt(s, i.Lhs)+evalInt(s, i.Rhs)))
		})}
	case *ir.Sub:
		return []*sample.State{stepEachSample(state, func(s *sample.Sample) *sample.Sample {
			return s.With(i.V, sample.IntValue(evalInt(s, i.Lhs)-evalInt(s, i.Rhs)))
		})}
	case *ir.Compare:
		return []*sample.State{stepEachSample(state, func(s *sample.Sample) *sample.Sample {
			return s.With(i.V, sample.BoolValue(evalCompare(s, i)))
		})}
	case *ir.DiscreteDistribution:
		return []*sample.State{stepEachSample(state, func(s *sample.Sample) *sample.Sample {
			return s.With(i.V, sample.IntValue(Draw(seed, s.ID, pos, i.Dist)))
		})}
	case *ir.Observe:
		var kept []*sample.Sample
		for _, s := range state.Samples {
			if evalBool(s, i.Cond) {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			return nil
		}
		return []*sample.State{{
			Position:           ir.Position{Block: pos.Block, Index: pos.Index + 1},
			Samples:            kept,
			LoopUnrolls:        state.LoopUnrolls,
			BranchingHistories: state.BranchingHistories,
		}}
	case *ir.Phi:
		panic("executor: encountered a bare Phi — phis must be consumed as part of a Jump/Branch transition")
	default:
		panic(fmt.Sprintf("executor: unknown instruction %T", i))
	}
}

// stepEachSample applies f to every sample and advances position by one
// instruction, leaving loop unrolls/histories untouched (pure data-flow
// instructions never branch or affect control-flow bookkeeping).
func stepEachSample(state *sample.State, f func(*sample.Sample) *sample.Sample) *sample.State {
	samples := make([]*sample.Sample, len(state.Samples))
	for i, s := range state.Samples {
		samples[i] = f(s)
	}
	return &sample.State{
		Position:           ir.Position{Block: state.Position.Block, Index: state.Position.Index + 1},
		Samples:            samples,
		LoopUnrolls:        state.LoopUnrolls,
		BranchingHistories: state.BranchingHistories,
	}
}

func evalOperand(s *sample.Sample, op ir.Operand) sample.Value {
	if op.IsVar() {
		v, ok := s.Values[op.Var]
		if !ok {
			panic(fmt.Sprintf("executor: sample %d has no value for %q", s.ID, op.Var))
		}
		return v
	}
	if op.Lit.IsBool {
		return sample.BoolValue(op.Lit.Bool)
	}
	return sample.IntValue(op.Lit.Int)
}

func evalInt(s *sample.Sample, op ir.Operand) int {
	v := evalOperand(s, op)
	if v.IsBool {
		panic("executor: expected int operand, got bool")
	}
	return v.Int
}

func evalBool(s *sample.Sample, op ir.Operand) bool {
	v := evalOperand(s, op)
	if !v.IsBool {
		panic("executor: expected bool operand, got int")
	}
	return v.Bool
}

func evalCompare(s *sample.Sample, c *ir.Compare) bool {
	lhs := evalOperand(s, c.Lhs)
	rhs := evalOperand(s, c.Rhs)
	switch c.Op {
	case ir.CompareEq:
		return lhs.Equal(rhs)
	case ir.CompareLt:
		return lhs.Int < rhs.Int
	default:
		panic("executor: unknown compare op")
	}
}

// jumpInto moves into target from source, running every contiguous leading
// Phi at target's start (§4.C Jump): phis read the incoming values before
// any of them are applied (simultaneous semantics), then position advances
// past the phi run.
func jumpInto(program *ir.Program, state *sample.State, source, target ir.Block) *sample.State {
	targetBlock := program.Block(target)
	phis := leadingPhis(targetBlock)

	samples := make([]*sample.Sample, len(state.Samples))
	for i, s := range state.Samples {
		updated := s.Clone()
		for _, phi := range phis {
			srcVar, ok := phi.Choices[source]
			if !ok {
				panic(fmt.Sprintf("executor: phi %q in block %q has no choice for predecessor %q", phi.V, target, source))
			}
			updated.Values[phi.V] = s.Values[srcVar]
		}
		samples[i] = updated
	}

	return &sample.State{
		Position:           ir.Position{Block: target, Index: len(phis)},
		Samples:            samples,
		LoopUnrolls:        state.LoopUnrolls,
		BranchingHistories: state.BranchingHistories,
	}
}

func leadingPhis(b *ir.BasicBlock) []*ir.Phi {
	var phis []*ir.Phi
	for _, inst := range b.Instructions {
		phi, ok := inst.(*ir.Phi)
		if !ok {
			break
		}
		phis = append(phis, phi)
	}
	return phis
}

func executeBranch(program *ir.Program, analysis *ir.Analysis, state *sample.State, block ir.Block, br *ir.Branch) []*sample.State {
	var trueSamples, falseSamples []*sample.Sample
	for _, s := range state.Samples {
		if evalBool(s, br.Cond) {
			trueSamples = append(trueSamples, s)
		} else {
			falseSamples = append(falseSamples, s)
		}
	}

	var children []*sample.State
	if len(trueSamples) > 0 {
		children = append(children, branchChild(program, analysis, state, block, br.TrueTarget, trueSamples))
	}
	if len(falseSamples) > 0 {
		children = append(children, branchChild(program, analysis, state, block, br.FalseTarget, falseSamples))
	}
	return children
}

func branchChild(program *ir.Program, analysis *ir.Analysis, state *sample.State, block, target ir.Block, samples []*sample.Sample) *sample.State {
	intermediate := &sample.State{
		Position:           state.Position,
		Samples:            samples,
		LoopUnrolls:        state.LoopUnrolls,
		BranchingHistories: state.BranchingHistories,
	}
	next := jumpInto(program, intermediate, block, target)

	histories := make([]sample.BranchingHistory, len(state.BranchingHistories))
	for i, h := range state.BranchingHistories {
		histories[i] = h.Append(sample.Choice(block, target))
	}
	next.BranchingHistories = histories

	if loop, ok := findLoopEdge(analysis, block, target); ok {
		next.LoopUnrolls = next.LoopUnrolls.Increment(sample.LoopKey{Condition: loop.Condition, BodyStart: loop.BodyStart})
	}
	return next
}

func findLoopEdge(analysis *ir.Analysis, from, to ir.Block) (ir.Loop, bool) {
	for _, l := range analysis.Loops {
		if l.Condition == from && l.BodyStart == to {
			return l, true
		}
	}
	return ir.Loop{}, false
}

// RunUntilNextInstruction executes exactly one instruction, trusting the
// caller's guarantee that at most one viable child state results (§4.C).
func RunUntilNextInstruction(program *ir.Program, analysis *ir.Analysis, seed Seed, state *sample.State) *sample.State {
	children := ExecuteNextInstruction(program, analysis, seed, state)
	switch len(children) {
	case 0:
		return nil
	case 1:
		return children[0]
	default:
		panic("executor: RunUntilNextInstruction caller guarantee violated — more than one viable child")
	}
}

// RunUntilPosition runs a BFS/worklist over every live execution branch
// until each has either entered stopSet or reached the program's Return,
// then merges every collected branch (§4.C). All collected branches must
// agree on position — a caller invariant enforced by sample.Merge. ctx is
// polled for cancellation between worklist steps (§5).
func RunUntilPosition(ctx context.Context, program *ir.Program, analysis *ir.Analysis, seed Seed, state *sample.State, stopSet map[ir.Position]bool) (*sample.State, error) {
	returnPos := program.ReturnPosition()
	worklist := []*sample.State{state}
	var collected []*sample.State

	for len(worklist) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cur := worklist[0]
		worklist = worklist[1:]

		if stopSet[cur.Position] || cur.Position == returnPos {
			collected = append(collected, cur)
			continue
		}
		children := ExecuteNextInstruction(program, analysis, seed, cur)
		worklist = append(worklist, children...)
	}

	if len(collected) == 0 {
		return nil, nil
	}
	return sample.Merge(collected), nil
}

// RunUntilEnd runs state to the program's Return position (§4.C).
func RunUntilEnd(ctx context.Context, program *ir.Program, analysis *ir.Analysis, seed Seed, state *sample.State) (*sample.State, error) {
	return RunUntilPosition(ctx, program, analysis, seed, state, map[ir.Position]bool{program.ReturnPosition(): true})
}
