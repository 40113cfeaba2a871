// Package debugger is the stateful façade of §4.G: it drives one forward
// execution of a sample population step by step, exposing the operations an
// interactive front end needs (step over/into, run to end, save/restore,
// variable-value queries, and slicing), and keeps the current
// sample.State plus a save stack as its only mutable data. Grounded on a
// language-server handler shape (one struct, one method per public
// operation, each returning a typed result or error) adapted from
// document/position requests to execution-state requests.
package debugger

import (
	"context"
	"fmt"

	"probwp/internal/errdefs"
	"probwp/internal/executor"
	"probwp/internal/ir"
	"probwp/internal/sample"
	"probwp/internal/slicing"
	"probwp/internal/term"
	"probwp/internal/wp"
)

// Debugger holds the current execution state and a save stack over a fixed
// (program, analysis, debug info) triple (§4.G).
type Debugger struct {
	Program   *ir.Program
	Analysis  *ir.Analysis
	DebugInfo ir.DebugInfo
	Store     *term.Store
	Seed      executor.Seed

	WP     *wp.Engine
	Slicer *slicing.Engine

	current   *sample.State
	saveStack []*sample.State
}

// New initializes sampleCount samples with no assigned values at the
// program's start, then advances to the first instruction carrying debug
// info (§4.G new).
func New(ctx context.Context, program *ir.Program, analysis *ir.Analysis, debugInfo ir.DebugInfo, store *term.Store, wpEngine *wp.Engine, slicer *slicing.Engine, seed executor.Seed, sampleCount int) (*Debugger, error) {
	samples := make([]*sample.Sample, sampleCount)
	for i := range samples {
		samples[i] = &sample.Sample{ID: i, Values: map[ir.Var]sample.Value{}}
	}
	start := &sample.State{
		Position:           ir.Position{Block: program.Start, Index: 0},
		Samples:            samples,
		LoopUnrolls:        sample.LoopUnrolls{},
		BranchingHistories: []sample.BranchingHistory{{}},
	}

	d := &Debugger{
		Program:   program,
		Analysis:  analysis,
		DebugInfo: debugInfo,
		Store:     store,
		Seed:      seed,
		WP:        wpEngine,
		Slicer:    slicer,
	}

	next, err := d.advanceToDebugPosition(ctx, start)
	if err != nil {
		return nil, err
	}
	d.current = next
	d.saveStack = []*sample.State{next.Clone()}
	return d, nil
}

// Clone returns an independent Debugger over the same immutable program,
// analysis, debug info, and term store, with its own deep-copied execution
// state, save stack, and private WP cache (§5 worker-offload model).
func (d *Debugger) Clone() *Debugger {
	saveStack := make([]*sample.State, len(d.saveStack))
	for i, s := range d.saveStack {
		saveStack[i] = s.Clone()
	}
	return &Debugger{
		Program:   d.Program,
		Analysis:  d.Analysis,
		DebugInfo: d.DebugInfo,
		Store:     d.Store,
		Seed:      d.Seed,
		WP:        d.WP.Clone(),
		Slicer:    slicing.NewEngine(d.Program, d.Analysis, d.Store),
		current:   d.current.Clone(),
		saveStack: saveStack,
	}
}

// Current returns the current execution state.
func (d *Debugger) Current() *sample.State {
	return d.current
}

func (d *Debugger) returnPosition() ir.Position {
	return d.Program.ReturnPosition()
}

func (d *Debugger) atEnd() bool {
	return d.current.Position == d.returnPosition()
}

// debugStopSet is every position carrying debug info, plus the program's
// return position — the set advance/RunUntilPosition treats as a stop.
func (d *Debugger) debugStopSet(extra ...ir.Position) map[ir.Position]bool {
	stops := map[ir.Position]bool{d.returnPosition(): true}
	for p := range d.DebugInfo {
		stops[p] = true
	}
	for _, p := range extra {
		stops[p] = true
	}
	return stops
}

func (d *Debugger) advanceToDebugPosition(ctx context.Context, state *sample.State) (*sample.State, error) {
	if d.debugStopSet()[state.Position] {
		return state, nil
	}
	next, err := executor.RunUntilPosition(ctx, d.Program, d.Analysis, d.Seed, state, d.debugStopSet())
	if err != nil {
		return nil, err
	}
	if next == nil {
		panic("debugger: every sample was observed away before reaching any debug position")
	}
	return next, nil
}

// StepOver runs to the next debug-info position. At a branch, this is the
// immediate postdominator's first non-phi instruction, with branching
// history collapsed via Any(predominated_by: branch_block) (§4.G step_over).
func (d *Debugger) StepOver(ctx context.Context) error {
	if d.atEnd() {
		return fmt.Errorf("debugger: step over: %w", errdefs.AlreadyTerminated)
	}

	block := d.current.Position.Block
	entry, hasDebugEntry := d.DebugInfo[d.current.Position]
	if hasDebugEntry && entry.InstructionType == ir.DebugIfElseBranch {
		joinBlock, ok := d.Analysis.ImmediatePostdominator[block]
		if !ok {
			panic("debugger: branch block has no immediate postdominator")
		}
		joinPos := ir.Position{Block: joinBlock, Index: firstNonPhiIndex(d.Program.Block(joinBlock))}
		children := executor.ExecuteNextInstruction(d.Program, d.Analysis, d.Seed, d.current)
		var collapsed []*sample.State
		for _, c := range children {
			reached, err := executor.RunUntilPosition(ctx, d.Program, d.Analysis, d.Seed, c, map[ir.Position]bool{joinPos: true})
			if err != nil {
				return err
			}
			if reached == nil {
				continue
			}
			collapsed = append(collapsed, collapseHistories(reached, block))
		}
		if len(collapsed) == 0 {
			return fmt.Errorf("debugger: step over: %w", errdefs.InfeasibleBranch)
		}
		merged := sample.Merge(collapsed)
		next, err := d.advanceToDebugPosition(ctx, merged)
		if err != nil {
			return err
		}
		d.current = next
		return nil
	}

	next, err := executor.RunUntilPosition(ctx, d.Program, d.Analysis, d.Seed, d.current, d.debugStopSet())
	if err != nil {
		return err
	}
	if next == nil {
		return fmt.Errorf("debugger: step over: %w", errdefs.InfeasibleBranch)
	}
	d.current = next
	return nil
}

func (d *Debugger) atBranchTerminator() bool {
	pos := d.current.Position
	return d.Program.Block(pos.Block).AtTerminator(pos.Index)
}

// StepInto filters samples by the branch condition and runs to the next
// debug-info position, failing with InfeasibleBranch if no samples remain
// for the requested side (§4.G step_into).
func (d *Debugger) StepInto(ctx context.Context, branch bool) error {
	if d.atEnd() {
		return fmt.Errorf("debugger: step into: %w", errdefs.AlreadyTerminated)
	}
	block := d.current.Position.Block
	br, ok := d.Program.Block(block).Terminator.(*ir.Branch)
	if !ok || !d.atBranchTerminator() {
		panic("debugger: step into called away from a branch terminator")
	}

	children := executor.ExecuteNextInstruction(d.Program, d.Analysis, d.Seed, d.current)
	target := br.FalseTarget
	if branch {
		target = br.TrueTarget
	}
	var picked *sample.State
	for _, c := range children {
		if childTookBranch(c, block, target) {
			picked = c
			break
		}
	}
	if picked == nil {
		return fmt.Errorf("debugger: step into: %w", errdefs.InfeasibleBranch)
	}

	next, err := d.advanceToDebugPosition(ctx, picked)
	if err != nil {
		return err
	}
	d.current = next
	return nil
}

func childTookBranch(child *sample.State, source, target ir.Block) bool {
	for _, h := range child.BranchingHistories {
		if last, ok := h.Last(); ok && !last.IsAny && last.Source == source && last.Target == target {
			return true
		}
	}
	return false
}

// RunUntilEnd rewrites every deliberate Choice in each branching history
// into Any(predominated_by: the choice's source block), then runs the
// population straight to the program's return (§4.G run_until_end). It does
// not first stop at an intermediate position between the current one and
// the return.
func (d *Debugger) RunUntilEnd(ctx context.Context) error {
	if d.atEnd() {
		return fmt.Errorf("debugger: run until end: %w", errdefs.AlreadyTerminated)
	}
	collapsed := collapseHistoriesToCommonAncestor(d.current, d.returnPosition())
	final, err := executor.RunUntilEnd(ctx, d.Program, d.Analysis, d.Seed, collapsed)
	if err != nil {
		return err
	}
	if final == nil {
		return fmt.Errorf("debugger: run until end: %w", errdefs.InfeasibleBranch)
	}
	d.current = final
	return nil
}

// collapseHistoriesToCommonAncestor folds every deliberate choice already
// made into an Any collapse: once run_until_end commits to running forward
// to the (unique) return position with no further debug stops in between,
// none of the history that got a sample here still needs to distinguish
// which arm it came from (§4.G run_until_end).
func collapseHistoriesToCommonAncestor(state *sample.State, returnPos ir.Position) *sample.State {
	histories := make([]sample.BranchingHistory, len(state.BranchingHistories))
	for i, h := range state.BranchingHistories {
		collapsed := make(sample.BranchingHistory, len(h))
		for j, c := range h {
			if c.IsAny {
				collapsed[j] = c
			} else {
				collapsed[j] = sample.Any(c.Source)
			}
		}
		histories[i] = collapsed
	}
	return &sample.State{
		Position:           state.Position,
		Samples:            state.Samples,
		LoopUnrolls:        state.LoopUnrolls,
		BranchingHistories: histories,
	}
}

// JumpToState replaces the current state and clears the save stack (§4.G
// jump_to_state). The stack is reseeded with the new current state as its
// sole entry, the same baseline New establishes, so a restore immediately
// after a jump fails exactly as it would right after construction.
func (d *Debugger) JumpToState(state *sample.State) {
	d.current = state.Clone()
	d.saveStack = []*sample.State{d.current.Clone()}
}

// SaveState pushes a copy of the current state onto the save stack (§4.G
// save_state).
func (d *Debugger) SaveState() {
	d.saveStack = append(d.saveStack, d.current.Clone())
}

// RestoreState pops the save stack into the current state. The stack
// always carries a baseline entry (the state at construction or the last
// jump_to_state), which is never itself a restore target — restoring with
// only that baseline present fails with NoSavedState (§4.G restore_state:
// "restore from single-element stack fails").
func (d *Debugger) RestoreState() error {
	if len(d.saveStack) <= 1 {
		return fmt.Errorf("debugger: restore state: %w", errdefs.NoSavedState)
	}
	top := d.saveStack[len(d.saveStack)-1]
	d.saveStack = d.saveStack[:len(d.saveStack)-1]
	d.current = top
	return nil
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

// collapseHistories rewrites every branching-history entry recording a
// choice made at branchBlock into Any(predominated_by: branchBlock) (§4.G
// step_over), mirroring internal/outline's identical collapse.
func collapseHistories(state *sample.State, branchBlock ir.Block) *sample.State {
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
