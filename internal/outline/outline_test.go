package outline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probwp/internal/executor"
	"probwp/internal/ir"
	"probwp/internal/outline"
	"probwp/internal/sample"
)

// ifElseProgram: entry (DebugIfElseBranch) branches on a coin into heads/
// tails, both converge at join (DebugSimple) which returns (DebugReturn at
// the program's single Return).
func ifElseProgram() (*ir.Program, ir.DebugInfo) {
	entry := &ir.BasicBlock{
		Name: "entry",
		Instructions: []ir.Instruction{
			&ir.DiscreteDistribution{V: "x", Dist: []ir.WeightedOutcome{{Value: 0, Prob: 0.5}, {Value: 1, Prob: 0.5}}},
			&ir.Compare{V: "cond", Op: ir.CompareEq, Lhs: ir.VarOperand("x"), Rhs: ir.LitOperand(ir.IntLit(1))},
		},
		Terminator: &ir.Branch{Cond: ir.VarOperand("cond"), TrueTarget: "heads", FalseTarget: "tails"},
	}
	heads := &ir.BasicBlock{
		Name:         "heads",
		Instructions: []ir.Instruction{&ir.Assign{V: "label", Value: ir.LitOperand(ir.IntLit(1))}},
		Terminator:   &ir.Jump{Target: "join"},
	}
	tails := &ir.BasicBlock{
		Name:         "tails",
		Instructions: []ir.Instruction{&ir.Assign{V: "label", Value: ir.LitOperand(ir.IntLit(0))}},
		Terminator:   &ir.Jump{Target: "join"},
	}
	join := &ir.BasicBlock{
		Name: "join",
		Instructions: []ir.Instruction{
			&ir.Phi{V: "result", Choices: map[ir.Block]ir.Var{"heads": "label", "tails": "label"}},
		},
		Terminator: &ir.Return{},
	}
	program := &ir.Program{Start: "entry", Blocks: map[ir.Block]*ir.BasicBlock{
		"entry": entry, "heads": heads, "tails": tails, "join": join,
	}}
	debugInfo := ir.DebugInfo{
		{Block: "entry", Index: len(entry.Instructions)}: {InstructionType: ir.DebugIfElseBranch},
		{Block: "join", Index: 1}:                        {InstructionType: ir.DebugReturn},
	}
	return program, debugInfo
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

func TestGenerateOutlineBuildsBranchWithBothSides(t *testing.T) {
	program, debugInfo := ifElseProgram()
	analysis := ir.Analyze(program)
	b := &outline.Builder{Program: program, Analysis: analysis, DebugInfo: debugInfo, Seed: executor.Seed{3, 4}}

	start := initialState(program, 100)
	result, final, err := b.Generate(context.Background(), start, program.ReturnPosition())
	require.NoError(t, err)
	require.NotNil(t, final)
	assert.Equal(t, program.ReturnPosition(), final.Position)
	require.Len(t, result, 2)

	branch, ok := result[0].(outline.Branch)
	require.True(t, ok)
	assert.NotNil(t, branch.TrueBranch)
	assert.NotNil(t, branch.FalseBranch)

	_, isInstruction := result[1].(outline.Instruction)
	assert.True(t, isInstruction)

	for _, h := range final.BranchingHistories {
		last, ok := h.Last()
		require.True(t, ok)
		assert.True(t, last.IsAny)
		assert.Equal(t, ir.Block("entry"), last.PredominatedBy)
	}
}
