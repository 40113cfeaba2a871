// Package outline builds the execution-outline tree (§4.D): a structured
// view of an execution — sequences, if/else branches, loop iterations, and
// exit states — built purely for UI navigation atop the forward executor.
// WP correctness never depends on anything this package produces.
package outline

import (
	"context"

	"probwp/internal/executor"
	"probwp/internal/ir"
	"probwp/internal/sample"
)

// Entry is the tagged union of outline node kinds: Instruction, Branch,
// Loop, End.
type Entry interface {
	isEntry()
}

// Outline is an ordered sequence of entries (one per execution stop between
// the outline's start and stop positions).
type Outline []Entry

// Instruction is a single source-statement stop.
type Instruction struct {
	State *sample.State
}

// Branch is an if/else statement. TrueBranch/FalseBranch are nil when that
// side carried no samples.
type Branch struct {
	State                    *sample.State
	TrueBranch, FalseBranch *Outline
}

// Loop is a loop statement. ExitStates gains one entry at each condition
// evaluation where some samples exit: the cumulative merge of every state
// that has exited so far. When samples exit at every evaluation,
// ExitStates[i] covers exits after at most i iterations. Iterations[i] is
// the outline of the (i+1)-th iteration's body.
type Loop struct {
	State      *sample.State
	Iterations []Outline
	ExitStates []*sample.State
}

// End is the post-return terminal.
type End struct {
	State *sample.State
}

func (Instruction) isEntry() {}
func (Branch) isEntry()      {}
func (Loop) isEntry()        {}
func (End) isEntry()         {}

// Builder generates outlines over one fixed (program, analysis, debugInfo)
// triple, using seed for any forward-execution draws it has to make.
type Builder struct {
	Program   *ir.Program
	Analysis  *ir.Analysis
	DebugInfo ir.DebugInfo
	Seed      executor.Seed
}

// Generate builds the outline from start to stop (§4.D). It returns the
// outline plus the final state reached (at stop, or at the program's Return
// if execution was exhausted before stop — in which case stop must equal
// the return position, or this is a programmer error).
func (b *Builder) Generate(ctx context.Context, start *sample.State, stop ir.Position) (Outline, *sample.State, error) {
	state := start
	returnPos := b.Program.ReturnPosition()

	if !b.isStop(state.Position, stop) {
		next, err := b.advance(ctx, state, stop)
		if err != nil {
			return nil, nil, err
		}
		if next == nil {
			return Outline{}, nil, nil
		}
		state = next
	}

	var entries Outline
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if state.Position == stop {
			return entries, state, nil
		}
		if state.Position == returnPos {
			if stop != returnPos {
				panic("outline: execution exhausted before reaching the requested stop position")
			}
			entries = append(entries, End{State: state})
			return entries, state, nil
		}

		debugEntry, ok := b.DebugInfo[state.Position]
		if !ok {
			panic("outline: stopped at a position with no debug info and not at stop or return")
		}

		switch debugEntry.InstructionType {
		case ir.DebugSimple:
			entries = append(entries, Instruction{State: state})
			next := executor.RunUntilNextInstruction(b.Program, b.Analysis, b.Seed, state)
			if next == nil {
				// Observe exhausted every sample; no further position exists.
				entries = append(entries, End{State: state})
				return entries, nil, nil
			}
			advanced, err := b.advance(ctx, next, stop)
			if err != nil {
				return nil, nil, err
			}
			state = advanced

		case ir.DebugIfElseBranch:
			entry, nextState, err := b.buildBranch(ctx, state, stop)
			if err != nil {
				return nil, nil, err
			}
			entries = append(entries, entry)
			state = nextState

		case ir.DebugLoop:
			entry, nextState, err := b.buildLoop(ctx, state, stop)
			if err != nil {
				return nil, nil, err
			}
			entries = append(entries, entry)
			state = nextState

		case ir.DebugReturn:
			entries = append(entries, Instruction{State: state})
			next := executor.RunUntilNextInstruction(b.Program, b.Analysis, b.Seed, state)
			if next == nil {
				entries = append(entries, End{State: state})
				return entries, nil, nil
			}
			state = next

		default:
			panic("outline: unknown debug instruction type")
		}
	}
}

func (b *Builder) isStop(pos, stop ir.Position) bool {
	return pos == stop
}

// advance runs state forward to the next position that is either a debug
// stop, the requested stop, or the program's return position.
func (b *Builder) advance(ctx context.Context, state *sample.State, stop ir.Position) (*sample.State, error) {
	stopSet := map[ir.Position]bool{stop: true, b.Program.ReturnPosition(): true}
	for p := range b.DebugInfo {
		stopSet[p] = true
	}
	return executor.RunUntilPosition(ctx, b.Program, b.Analysis, b.Seed, state, stopSet)
}

func (b *Builder) buildBranch(ctx context.Context, state *sample.State, stop ir.Position) (Entry, *sample.State, error) {
	branchBlock := state.Position.Block
	br, ok := b.Program.Block(branchBlock).Terminator.(*ir.Branch)
	if !ok {
		panic("outline: debug-tagged IfElseBranch block does not end in a Branch")
	}
	children := executor.ExecuteNextInstruction(b.Program, b.Analysis, b.Seed, state)

	joinBlock, ok := b.Analysis.ImmediatePostdominator[branchBlock]
	if !ok {
		panic("outline: branch block has no immediate postdominator")
	}
	joinPos := ir.Position{Block: joinBlock, Index: firstNonPhiIndex(b.Program.Block(joinBlock))}

	var trueOutline, falseOutline *Outline
	var collapsed []*sample.State

	for _, child := range children {
		isTrue := lastChoiceTarget(child, branchBlock) == br.TrueTarget

		outline, final, err := b.Generate(ctx, child, joinPos)
		if err != nil {
			return nil, nil, err
		}
		if final != nil {
			final = collapseToAny(final, branchBlock)
			collapsed = append(collapsed, final)
		}
		o := outline
		if isTrue {
			trueOutline = &o
		} else {
			falseOutline = &o
		}
	}

	var joined *sample.State
	if len(collapsed) > 0 {
		joined = sample.Merge(collapsed)
	}

	entry := Branch{State: state, TrueBranch: trueOutline, FalseBranch: falseOutline}
	if joined == nil {
		// No samples survived either side; nothing further to execute.
		return entry, &sample.State{Position: joinPos, LoopUnrolls: sample.LoopUnrolls{}}, nil
	}
	return entry, joined, nil
}

// lastChoiceTarget returns the target block of the most recent Choice
// recorded from branchBlock in child's branching history (every sample in
// child shares the same such choice, since ExecuteNextInstruction partitions
// samples by branch before appending history).
func lastChoiceTarget(child *sample.State, branchBlock ir.Block) ir.Block {
	for _, h := range child.BranchingHistories {
		if last, ok := h.Last(); ok && !last.IsAny && last.Source == branchBlock {
			return last.Target
		}
	}
	panic("outline: branch child carries no Choice recorded from its branch block")
}

func collapseToAny(state *sample.State, branchBlock ir.Block) *sample.State {
	histories := make([]sample.BranchingHistory, len(state.BranchingHistories))
	for i, h := range state.BranchingHistories {
		last, ok := h.Last()
		if ok && !last.IsAny && last.Source == branchBlock {
			histories[i] = h.PopLast().Append(sample.Any(branchBlock))
		} else {
			histories[i] = h
		}
	}
	return &sample.State{
		Position:           state.Position,
		Samples:            state.Samples,
		LoopUnrolls:        state.LoopUnrolls,
		BranchingHistories: histories,
	}
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

func (b *Builder) buildLoop(ctx context.Context, state *sample.State, stop ir.Position) (Entry, *sample.State, error) {
	condBlock := state.Position.Block
	br, ok := b.Program.Block(condBlock).Terminator.(*ir.Branch)
	if !ok {
		panic("outline: loop condition block does not end in a Branch")
	}
	bodyTarget := br.TrueTarget
	exitTarget := br.FalseTarget

	var iterations []Outline
	var exitStates []*sample.State
	var cumulativeExit *sample.State
	cur := state

	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		children := executor.ExecuteNextInstruction(b.Program, b.Analysis, b.Seed, cur)

		var bodyChild, exitChild *sample.State
		for _, c := range children {
			switch c.Position.Block {
			case bodyTarget:
				bodyChild = c
			case exitTarget:
				exitChild = c
			}
		}

		if exitChild != nil {
			if cumulativeExit == nil {
				cumulativeExit = exitChild
			} else {
				cumulativeExit = sample.Merge([]*sample.State{cumulativeExit, exitChild})
			}
			exitStates = append(exitStates, cumulativeExit)
		}

		if bodyChild == nil {
			break
		}
		iterOutline, iterFinal, err := b.Generate(ctx, bodyChild, state.Position)
		if err != nil {
			return nil, nil, err
		}
		iterations = append(iterations, iterOutline)
		if iterFinal == nil {
			break
		}
		cur = iterFinal
	}

	entry := Loop{State: state, Iterations: iterations, ExitStates: exitStates}
	if cumulativeExit != nil {
		return entry, cumulativeExit, nil
	}
	return entry, &sample.State{Position: ir.Position{Block: exitTarget}, LoopUnrolls: sample.LoopUnrolls{}}, nil
}
