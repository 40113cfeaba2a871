package debugger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probwp/internal/debugger"
	"probwp/internal/errdefs"
	"probwp/internal/executor"
	"probwp/internal/ir"
	"probwp/internal/slicing"
	"probwp/internal/term"
	"probwp/internal/wp"
)

// ifElseProgram: entry draws a fair coin x, branches on cond := (x == 1)
// into heads (label := 1) / tails (label := 0), joined at "result" and
// returned. Debug stops sit at every block's terminator, matching this
// module's one-statement-per-block IR lowering convention.
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
			&ir.Phi{V: "y", Choices: map[ir.Block]ir.Var{"heads": "label", "tails": "label"}},
		},
		Terminator: &ir.Return{},
	}
	program := &ir.Program{Start: "entry", Blocks: map[ir.Block]*ir.BasicBlock{
		"entry": entry, "heads": heads, "tails": tails, "join": join,
	}}
	debugInfo := ir.DebugInfo{
		{Block: "entry", Index: len(entry.Instructions)}: {
			InstructionType: ir.DebugIfElseBranch,
			SourceToIRVar:   map[string]ir.Var{"coin": "x"},
		},
		{Block: "heads", Index: len(heads.Instructions)}: {
			InstructionType: ir.DebugSimple,
			SourceToIRVar:   map[string]ir.Var{"label": "label"},
		},
		{Block: "tails", Index: len(tails.Instructions)}: {
			InstructionType: ir.DebugSimple,
			SourceToIRVar:   map[string]ir.Var{"label": "label"},
		},
		{Block: "join", Index: len(join.Instructions)}: {
			InstructionType: ir.DebugReturn,
			SourceToIRVar:   map[string]ir.Var{"result": "y"},
		},
	}
	return program, debugInfo
}

func newDebugger(t *testing.T, sampleCount int) *debugger.Debugger {
	t.Helper()
	program, debugInfo := ifElseProgram()
	analysis := ir.Analyze(program)
	store := term.NewStore()
	wpEngine := wp.NewEngine(program, analysis, store, nil)
	slicer := slicing.NewEngine(program, analysis, store)

	d, err := debugger.New(context.Background(), program, analysis, debugInfo, store, wpEngine, slicer, executor.Seed{7, 11}, sampleCount)
	require.NoError(t, err)
	return d
}

func TestNewAdvancesToFirstDebugPosition(t *testing.T) {
	d := newDebugger(t, 200)
	assert.Equal(t, ir.Position{Block: "entry", Index: 2}, d.Current().Position)
}

func TestStepOverCollapsesBranchToJoin(t *testing.T) {
	d := newDebugger(t, 200)
	require.NoError(t, d.StepOver(context.Background()))

	assert.Equal(t, ir.Position{Block: "join", Index: 1}, d.Current().Position)
	for _, h := range d.Current().BranchingHistories {
		last, ok := h.Last()
		require.True(t, ok)
		assert.True(t, last.IsAny)
		assert.Equal(t, ir.Block("entry"), last.PredominatedBy)
	}
}

func TestStepIntoFiltersByBranch(t *testing.T) {
	d := newDebugger(t, 200)
	require.NoError(t, d.StepInto(context.Background(), true))

	assert.Equal(t, ir.Position{Block: "heads", Index: 1}, d.Current().Position)
	for _, s := range d.Current().Samples {
		assert.Equal(t, 1, s.Values["x"].Int)
	}
}

func TestStepIntoOnEachSideReachesDistinctLabel(t *testing.T) {
	d := newDebugger(t, 200)
	require.NoError(t, d.StepInto(context.Background(), false))
	assert.Equal(t, ir.Position{Block: "tails", Index: 1}, d.Current().Position)
	for _, s := range d.Current().Samples {
		assert.Equal(t, 0, s.Values["label"].Int)
	}
}

func TestRunUntilEndReachesReturn(t *testing.T) {
	d := newDebugger(t, 200)
	require.NoError(t, d.RunUntilEnd(context.Background()))
	assert.Equal(t, ir.Position{Block: "join", Index: 1}, d.Current().Position)
}

func TestRunUntilEndThenAlreadyTerminated(t *testing.T) {
	d := newDebugger(t, 50)
	require.NoError(t, d.RunUntilEnd(context.Background()))
	err := d.RunUntilEnd(context.Background())
	assert.ErrorIs(t, err, errdefs.AlreadyTerminated)
}

func TestSaveRestoreStateStackDiscipline(t *testing.T) {
	d := newDebugger(t, 50)
	d.SaveState()
	err := d.RestoreState()
	assert.NoError(t, err)

	before := d.Current().Position
	require.NoError(t, d.StepInto(context.Background(), true))
	assert.NotEqual(t, before, d.Current().Position)
	checkpoint := d.Current().Position

	d.SaveState()
	require.NoError(t, d.RunUntilEnd(context.Background()))
	assert.Equal(t, ir.Position{Block: "join", Index: 1}, d.Current().Position)

	require.NoError(t, d.RestoreState())
	assert.Equal(t, checkpoint, d.Current().Position)

	err = d.RestoreState()
	assert.ErrorIs(t, err, errdefs.NoSavedState)
}

func TestVariableValuesRecoversFairCoin(t *testing.T) {
	d := newDebugger(t, 500)
	require.NoError(t, d.StepOver(context.Background()))

	values, err := d.VariableValues(context.Background(), debugger.Drop)
	require.NoError(t, err)

	results := values["result"]
	require.Len(t, results, 2)
	for _, r := range results {
		assert.InDelta(t, 0.5, r.Probability, 1e-9)
	}
}

func TestSliceResultHidesNothingWhenEveryStatementMatters(t *testing.T) {
	d := newDebugger(t, 200)
	require.NoError(t, d.StepOver(context.Background()))

	complement, err := d.Slice(context.Background(), "result")
	require.NoError(t, err)

	// heads/tails and the branch condition all determine "result"; nothing
	// in this tiny program is safe to hide.
	assert.Empty(t, complement)
}

func TestSliceUnknownVariable(t *testing.T) {
	d := newDebugger(t, 50)
	_, err := d.Slice(context.Background(), "nope")
	assert.ErrorIs(t, err, errdefs.UnknownVariable)
}
