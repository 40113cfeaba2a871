package slicing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probwp/internal/ir"
	"probwp/internal/sample"
	"probwp/internal/slicing"
	"probwp/internal/term"
)

// ifElseProgram builds entry (coin -> cond) branching to heads/tails, each
// assigning label, joined via phi into y and returned. headsLabel/
// tailsLabel let tests control whether the two arms actually disagree.
func ifElseProgram(headsLabel, tailsLabel int) *ir.Program {
	entry := &ir.BasicBlock{
		Name: "entry",
		Instructions: []ir.Instruction{
			&ir.DiscreteDistribution{V: "c", Dist: []ir.WeightedOutcome{{Value: 0, Prob: 0.5}, {Value: 1, Prob: 0.5}}},
			&ir.Compare{V: "cond", Op: ir.CompareEq, Lhs: ir.VarOperand("c"), Rhs: ir.LitOperand(ir.IntLit(1))},
		},
		Terminator: &ir.Branch{Cond: ir.VarOperand("cond"), TrueTarget: "heads", FalseTarget: "tails"},
	}
	heads := &ir.BasicBlock{
		Name:         "heads",
		Instructions: []ir.Instruction{&ir.Assign{V: "label", Value: ir.LitOperand(ir.IntLit(headsLabel))}},
		Terminator:   &ir.Jump{Target: "join"},
	}
	tails := &ir.BasicBlock{
		Name:         "tails",
		Instructions: []ir.Instruction{&ir.Assign{V: "label", Value: ir.LitOperand(ir.IntLit(tailsLabel))}},
		Terminator:   &ir.Jump{Target: "join"},
	}
	join := &ir.BasicBlock{
		Name: "join",
		Instructions: []ir.Instruction{
			&ir.Phi{V: "y", Choices: map[ir.Block]ir.Var{"heads": "label", "tails": "label"}},
		},
		Terminator: &ir.Return{},
	}
	return &ir.Program{Start: "entry", Blocks: map[ir.Block]*ir.BasicBlock{
		"entry": entry, "heads": heads, "tails": tails, "join": join,
	}}
}

func TestSliceOmitsBranchWhenArmsAgree(t *testing.T) {
	program := ifElseProgram(1, 1)
	analysis := ir.Analyze(program)
	store := term.NewStore()
	e := slicing.NewEngine(program, analysis, store)

	result, err := e.Slice(context.Background(), "y", sample.LoopUnrolls{}, program.ReturnPosition(), []sample.BranchingHistory{{sample.Any("entry")}})
	require.NoError(t, err)

	assert.True(t, result.Relevant[ir.Position{Block: "join", Index: 0}], "phi should be relevant")
	assert.True(t, result.Relevant[ir.Position{Block: "heads", Index: 0}], "heads assign should be relevant")
	assert.True(t, result.Relevant[ir.Position{Block: "tails", Index: 0}], "tails assign should be relevant")

	entryTerminator := ir.Position{Block: "entry", Index: 2}
	assert.False(t, result.Relevant[entryTerminator], "branch should not be relevant when both arms agree")
	assert.False(t, result.Relevant[ir.Position{Block: "entry", Index: 1}], "compare should not be relevant")
	assert.False(t, result.Relevant[ir.Position{Block: "entry", Index: 0}], "coin draw should not be relevant")
}

func TestSliceIncludesBranchWhenArmsDisagree(t *testing.T) {
	program := ifElseProgram(1, 0)
	analysis := ir.Analyze(program)
	store := term.NewStore()
	e := slicing.NewEngine(program, analysis, store)

	result, err := e.Slice(context.Background(), "y", sample.LoopUnrolls{}, program.ReturnPosition(), []sample.BranchingHistory{{sample.Any("entry")}})
	require.NoError(t, err)

	entryTerminator := ir.Position{Block: "entry", Index: 2}
	assert.True(t, result.Relevant[entryTerminator], "branch should be relevant when arms disagree")
	assert.True(t, result.Relevant[ir.Position{Block: "entry", Index: 1}], "compare feeds the disagreeing branch")
	assert.True(t, result.Relevant[ir.Position{Block: "entry", Index: 0}], "coin draw feeds the compare")
}
