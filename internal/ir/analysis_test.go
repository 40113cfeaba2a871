package ir_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probwp/internal/ir"
)

// diamond builds: entry -branch-> (t, f) -> join -> ret
func diamond() *ir.Program {
	entry := &ir.BasicBlock{
		Name: "entry",
		Instructions: []ir.Instruction{
			&ir.Assign{V: "c", Value: ir.LitOperand(ir.BoolLit(true))},
		},
		Terminator: &ir.Branch{Cond: ir.VarOperand("c"), TrueTarget: "t", FalseTarget: "f"},
	}
	t := &ir.BasicBlock{Name: "t", Terminator: &ir.Jump{Target: "join"}}
	f := &ir.BasicBlock{Name: "f", Terminator: &ir.Jump{Target: "join"}}
	join := &ir.BasicBlock{
		Name: "join",
		Instructions: []ir.Instruction{
			&ir.Phi{V: "x", Choices: map[ir.Block]ir.Var{"t": "xt", "f": "xf"}},
		},
		Terminator: &ir.Return{},
	}
	return &ir.Program{
		Start: "entry",
		Blocks: map[ir.Block]*ir.BasicBlock{
			"entry": entry, "t": t, "f": f, "join": join,
		},
	}
}

func TestAnalyzeDiamondDominators(t *testing.T) {
	p := diamond()
	a := ir.Analyze(p)

	assert.True(t, a.Predominators["join"]["entry"])
	assert.True(t, a.Predominators["join"]["join"])
	assert.False(t, a.Predominators["join"]["t"])
	assert.False(t, a.Predominators["join"]["f"])

	assert.Equal(t, ir.Block("entry"), a.ImmediatePredominator["join"])
	assert.Equal(t, ir.Block("entry"), a.ImmediatePredominator["t"])

	assert.True(t, a.Postdominators["entry"]["join"])
	assert.Equal(t, ir.Block("join"), a.ImmediatePostdominator["entry"])
	assert.Equal(t, ir.Block("join"), a.ImmediatePostdominator["t"])

	assert.Empty(t, a.Loops)
}

func TestAnalyzeLoop(t *testing.T) {
	// entry -> cond -branch-> (body, exit); body -> cond; exit -> ret
	cond := &ir.BasicBlock{
		Name:       "cond",
		Terminator: &ir.Branch{Cond: ir.VarOperand("c"), TrueTarget: "body", FalseTarget: "exit"},
	}
	body := &ir.BasicBlock{Name: "body", Terminator: &ir.Jump{Target: "cond"}}
	entry := &ir.BasicBlock{Name: "entry", Terminator: &ir.Jump{Target: "cond"}}
	exit := &ir.BasicBlock{Name: "exit", Terminator: &ir.Return{}}

	p := &ir.Program{
		Start: "entry",
		Blocks: map[ir.Block]*ir.BasicBlock{
			"entry": entry, "cond": cond, "body": body, "exit": exit,
		},
	}
	a := ir.Analyze(p)

	require.Len(t, a.Loops, 1)
	assert.Equal(t, ir.Block("cond"), a.Loops[0].Condition)
	assert.Equal(t, ir.Block("body"), a.Loops[0].BodyStart)
	assert.True(t, a.IsLoopCondition("cond"))
	assert.False(t, a.IsLoopCondition("body"))
}

func TestValidateCatchesDuplicateAssignment(t *testing.T) {
	entry := &ir.BasicBlock{
		Name: "entry",
		Instructions: []ir.Instruction{
			&ir.Assign{V: "x", Value: ir.LitOperand(ir.IntLit(1))},
			&ir.Assign{V: "x", Value: ir.LitOperand(ir.IntLit(2))},
		},
		Terminator: &ir.Return{},
	}
	p := &ir.Program{Start: "entry", Blocks: map[ir.Block]*ir.BasicBlock{"entry": entry}}
	a := ir.Analyze(p)

	assert.Panics(t, func() { ir.Validate(p, a) })
}

func TestValidateAcceptsWellFormedDiamond(t *testing.T) {
	p := diamond()
	a := ir.Analyze(p)
	assert.NotPanics(t, func() { ir.Validate(p, a) })
}
