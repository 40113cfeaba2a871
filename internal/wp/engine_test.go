package wp_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probwp/internal/ir"
	"probwp/internal/sample"
	"probwp/internal/term"
	"probwp/internal/wp"
)

func oneBlockProgram(inst ir.Instruction) *ir.Program {
	return &ir.Program{Start: "entry", Blocks: map[ir.Block]*ir.BasicBlock{
		"entry": {Name: "entry", Instructions: []ir.Instruction{inst}, Terminator: &ir.Return{}},
	}}
}

func newEngine(program *ir.Program) (*wp.Engine, *term.Store) {
	store := term.NewStore()
	analysis := ir.Analyze(program)
	return wp.NewEngine(program, analysis, store, nil), store
}

// Scenario 1 (§8): a literal assignment x := 42 has a deterministic value.
func TestInferLiteralAssignment(t *testing.T) {
	program := oneBlockProgram(&ir.Assign{V: "x", Value: ir.LitOperand(ir.IntLit(42))})
	e, store := newEngine(program)

	result, err := e.Infer(context.Background(), store.Var("x"), sample.LoopUnrolls{}, program.ReturnPosition(), []sample.BranchingHistory{{}})
	require.NoError(t, err)
	assert.InDelta(t, 42, result.Value.NumericValue(), 1e-9)
	assert.InDelta(t, 1, result.RunsNotCutOff, 1e-9)
	assert.InDelta(t, 1, result.IntentionalFocus, 1e-9)
}

// Scenario 2 (§8): x drawn uniformly from {1, 2} has expectation 1.5.
func TestInferDiscreteDistributionExpectation(t *testing.T) {
	program := oneBlockProgram(&ir.DiscreteDistribution{
		V:    "x",
		Dist: []ir.WeightedOutcome{{Value: 1, Prob: 0.5}, {Value: 2, Prob: 0.5}},
	})
	e, store := newEngine(program)

	result, err := e.Infer(context.Background(), store.Var("x"), sample.LoopUnrolls{}, program.ReturnPosition(), []sample.BranchingHistory{{}})
	require.NoError(t, err)
	assert.InDelta(t, 1.5, result.Value.NumericValue(), 1e-9)
	assert.InDelta(t, 1, result.RunsNotCutOff, 1e-9)
}

// Scenario 3 (§8): an if/else assigning y := 1 on the true branch and
// y := 0 on the false branch of a fair coin recovers E[y] = 0.5 and an
// observe-satisfaction rate of 1 (nothing was ever observed away).
func ifElseProgram() *ir.Program {
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
			&ir.Phi{V: "y", Choices: map[ir.Block]ir.Var{"heads": "label", "tails": "label"}},
		},
		Terminator: &ir.Return{},
	}
	return &ir.Program{Start: "entry", Blocks: map[ir.Block]*ir.BasicBlock{
		"entry": entry, "heads": heads, "tails": tails, "join": join,
	}}
}

func TestInferIfElseExpectation(t *testing.T) {
	program := ifElseProgram()
	e, store := newEngine(program)

	result, err := e.Infer(context.Background(), store.Var("y"), sample.LoopUnrolls{}, program.ReturnPosition(), []sample.BranchingHistory{{sample.Any("entry")}})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, result.Value.NumericValue(), 1e-9)
	assert.InDelta(t, 1, result.RunsNotCutOff, 1e-9)
	assert.InDelta(t, 1, result.ObserveSatisfaction, 1e-9)
}

// Scenario 4 (§8): observing a condition that rejects one branch entirely
// collapses the population onto the surviving branch.
func TestInferObserveCollapsesToSurvivingBranch(t *testing.T) {
	program := ifElseProgram()
	joinBlock := program.Blocks["join"]
	joinBlock.Instructions = append(joinBlock.Instructions,
		&ir.Compare{V: "yIsOne", Op: ir.CompareEq, Lhs: ir.VarOperand("y"), Rhs: ir.LitOperand(ir.IntLit(1))},
		&ir.Observe{Cond: ir.VarOperand("yIsOne")},
	)
	e, store := newEngine(program)

	stop := ir.Position{Block: "join", Index: 3}
	result, err := e.Infer(context.Background(), store.Var("y"), sample.LoopUnrolls{}, stop, []sample.BranchingHistory{{sample.Any("entry")}})
	require.NoError(t, err)
	// Value is the raw (unconditioned) expectation; the conditional mean
	// given the observe is Value / (IntentionalFocus * ObserveSatisfaction).
	assert.InDelta(t, 0.5, result.Value.NumericValue(), 1e-9)
	assert.InDelta(t, 0.5, result.ObserveSatisfaction, 1e-9)
	conditional := result.Value.NumericValue() / (result.IntentionalFocus * result.ObserveSatisfaction)
	assert.InDelta(t, 1, conditional, 1e-9)
}

// Scenario 5 (§8): a loop that flips a fair coin each iteration and exits
// once it comes up heads. "cond" carries the Branch that exits the loop
// (to "exit") or re-enters the body (to "body"); "body" merely jumps back
// to "cond" and is not itself a Branch.
func loopProgram() *ir.Program {
	entry := &ir.BasicBlock{
		Name:       "entry",
		Terminator: &ir.Jump{Target: "cond"},
	}
	cond := &ir.BasicBlock{
		Name: "cond",
		Instructions: []ir.Instruction{
			&ir.DiscreteDistribution{V: "flip", Dist: []ir.WeightedOutcome{{Value: 0, Prob: 0.5}, {Value: 1, Prob: 0.5}}},
			&ir.Compare{V: "heads", Op: ir.CompareEq, Lhs: ir.VarOperand("flip"), Rhs: ir.LitOperand(ir.IntLit(1))},
		},
		Terminator: &ir.Branch{Cond: ir.VarOperand("heads"), TrueTarget: "exit", FalseTarget: "body"},
	}
	body := &ir.BasicBlock{Name: "body", Terminator: &ir.Jump{Target: "cond"}}
	exit := &ir.BasicBlock{
		Name:         "exit",
		Instructions: []ir.Instruction{&ir.Assign{V: "y", Value: ir.LitOperand(ir.IntLit(1))}},
		Terminator:   &ir.Return{},
	}
	return &ir.Program{Start: "entry", Blocks: map[ir.Block]*ir.BasicBlock{
		"entry": entry, "cond": cond, "body": body, "exit": exit,
	}}
}

// The condition block must be "cond" (the Branch), not "body" (the cycle's
// alphabetic minimum) — this is the structural property that variable
// values and loop-unroll bookkeeping both depend on.
func TestInferLoopConditionIsTheBranchBlock(t *testing.T) {
	program := loopProgram()
	analysis := ir.Analyze(program)
	require.Len(t, analysis.Loops, 1)
	assert.Equal(t, ir.Block("cond"), analysis.Loops[0].Condition)
	assert.Equal(t, ir.Block("body"), analysis.Loops[0].BodyStart)
	assert.True(t, analysis.IsLoopCondition("cond"))
	assert.False(t, analysis.IsLoopCondition("body"))
}

// With loop-unroll set {1}, only runs that pass through the body exactly
// once (tails, then heads: probability 0.25) are representable. y is 1 on
// every exit, so Value and RunsNotCutOff are both 0.25; the other 0.75 is
// lost to truncation.
func TestInferLoopExpectationWithExactUnrollCount(t *testing.T) {
	program := loopProgram()
	e, store := newEngine(program)
	loopKey := sample.LoopKey{Condition: "cond", BodyStart: "body"}
	unrolls := sample.LoopUnrolls{loopKey: {1: true}}

	result, err := e.Infer(context.Background(), store.Var("y"), unrolls, program.ReturnPosition(), []sample.BranchingHistory{{sample.Any("entry")}})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, result.Value.NumericValue(), 1e-9)
	assert.InDelta(t, 0.25, result.RunsNotCutOff, 1e-9)
}
