package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probwp/internal/executor"
	"probwp/internal/ir"
	"probwp/internal/sample"
)

// coinFlip builds: entry draws x ~ Bernoulli(0.5), branches on x==1 to
// "heads" or "tails", both jump to "done" which returns. Mirrors the
// diamond-with-data fixture used by the ir package's own tests.
func coinFlip() *ir.Program {
	entry := &ir.BasicBlock{
		Name: "entry",
		Instructions: []ir.Instruction{
			&ir.DiscreteDistribution{V: "x", Dist: []ir.WeightedOutcome{
				{Value: 0, Prob: 0.5},
				{Value: 1, Prob: 0.5},
			}},
			&ir.Compare{V: "isHeads", Op: ir.CompareEq, Lhs: ir.VarOperand("x"), Rhs: ir.LitOperand(ir.IntLit(1))},
		},
		Terminator: &ir.Branch{Cond: ir.VarOperand("isHeads"), TrueTarget: "heads", FalseTarget: "tails"},
	}
	heads := &ir.BasicBlock{
		Name: "heads",
		Instructions: []ir.Instruction{
			&ir.Assign{V: "label", Value: ir.LitOperand(ir.IntLit(1))},
		},
		Terminator: &ir.Jump{Target: "done"},
	}
	tails := &ir.BasicBlock{
		Name: "tails",
		Instructions: []ir.Instruction{
			&ir.Assign{V: "label", Value: ir.LitOperand(ir.IntLit(0))},
		},
		Terminator: &ir.Jump{Target: "done"},
	}
	done := &ir.BasicBlock{
		Name: "done",
		Instructions: []ir.Instruction{
			&ir.Phi{V: "result", Choices: map[ir.Block]ir.Var{"heads": "label", "tails": "label"}},
		},
		Terminator: &ir.Return{},
	}
	return &ir.Program{
		Start: "entry",
		Blocks: map[ir.Block]*ir.BasicBlock{
			"entry": entry, "heads": heads, "tails": tails, "done": done,
		},
	}
}

func initialState(program *ir.Program, n int) *sample.State {
	samples := make([]*sample.Sample, n)
	for i := 0; i < n; i++ {
		samples[i] = &sample.Sample{ID: i, Values: map[ir.Var]sample.Value{}}
	}
	return &sample.State{
		Position:           ir.Position{Block: program.Start, Index: 0},
		Samples:            samples,
		LoopUnrolls:        sample.LoopUnrolls{},
		BranchingHistories: []sample.BranchingHistory{{}},
	}
}

func TestRunUntilEndPartitionsAndRejoinsSamples(t *testing.T) {
	program := coinFlip()
	analysis := ir.Analyze(program)
	seed := executor.Seed{1, 2}
	state := initialState(program, 200)

	final, err := executor.RunUntilEnd(context.Background(), program, analysis, seed, state)
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, program.ReturnPosition(), final.Position)
	assert.Len(t, final.Samples, 200)

	sawHeads, sawTails := false, false
	for _, s := range final.Samples {
		label := s.Values["result"]
		x := s.Values["x"]
		if x.Int == 1 {
			assert.Equal(t, 1, label.Int)
			sawHeads = true
		} else {
			assert.Equal(t, 0, label.Int)
			sawTails = true
		}
	}
	assert.True(t, sawHeads, "expected at least one heads sample out of 200 draws")
	assert.True(t, sawTails, "expected at least one tails sample out of 200 draws")
}

func TestRunUntilEndRecordsBranchingHistory(t *testing.T) {
	program := coinFlip()
	analysis := ir.Analyze(program)
	seed := executor.Seed{7, 9}
	state := initialState(program, 50)

	final, err := executor.RunUntilEnd(context.Background(), program, analysis, seed, state)
	require.NoError(t, err)
	require.Len(t, final.BranchingHistories, 2)
	for _, h := range final.BranchingHistories {
		require.Len(t, h, 1)
		choice := h[0]
		assert.False(t, choice.IsAny)
		assert.Equal(t, ir.Block("entry"), choice.Source)
		assert.Contains(t, []ir.Block{"heads", "tails"}, choice.Target)
	}
}

func TestObserveCanDropToZeroStates(t *testing.T) {
	entry := &ir.BasicBlock{
		Name: "entry",
		Instructions: []ir.Instruction{
			&ir.Observe{Cond: ir.LitOperand(ir.BoolLit(false))},
		},
		Terminator: &ir.Return{},
	}
	program := &ir.Program{Start: "entry", Blocks: map[ir.Block]*ir.BasicBlock{"entry": entry}}
	analysis := ir.Analyze(program)
	state := initialState(program, 10)

	children := executor.ExecuteNextInstruction(program, analysis, executor.Seed{}, state)
	assert.Nil(t, children)
}

func TestDrawIsDeterministicForSameInputs(t *testing.T) {
	dist := []ir.WeightedOutcome{{Value: 0, Prob: 0.3}, {Value: 1, Prob: 0.7}}
	pos := ir.Position{Block: "entry", Index: 0}
	a := executor.Draw(executor.Seed{11, 22}, 5, pos, dist)
	b := executor.Draw(executor.Seed{11, 22}, 5, pos, dist)
	assert.Equal(t, a, b)
}

func TestRunUntilNextInstructionPanicsOnAmbiguousChild(t *testing.T) {
	program := coinFlip()
	analysis := ir.Analyze(program)
	state := initialState(program, 10)
	// Position sits at entry's Branch terminator with mixed samples — both
	// heads and tails children are viable, violating RunUntilNextInstruction's
	// single-child caller guarantee.
	state.Position = ir.Position{Block: "entry", Index: len(program.Block("entry").Instructions)}
	state.Samples[0].Values["isHeads"] = sample.BoolValue(true)
	state.Samples[1].Values["isHeads"] = sample.BoolValue(false)
	for i := 2; i < len(state.Samples); i++ {
		state.Samples[i].Values["isHeads"] = sample.BoolValue(true)
	}
	assert.Panics(t, func() {
		executor.RunUntilNextInstruction(program, analysis, executor.Seed{}, state)
	})
}
