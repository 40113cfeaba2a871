package sample_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"probwp/internal/ir"
	"probwp/internal/sample"
)

func TestValueEqualAndString(t *testing.T) {
	assert.True(t, sample.IntValue(3).Equal(sample.IntValue(3)))
	assert.False(t, sample.IntValue(3).Equal(sample.IntValue(4)))
	assert.False(t, sample.IntValue(0).Equal(sample.BoolValue(false)))
	assert.Equal(t, "3", sample.IntValue(3).String())
	assert.Equal(t, "true", sample.BoolValue(true).String())
}

func TestLoopUnrollsIncrementAndUnion(t *testing.T) {
	loop := sample.LoopKey{Condition: "cond", BodyStart: "body"}
	base := sample.LoopUnrolls{loop: {0: true}}

	incremented := base.Increment(loop)
	assert.True(t, incremented[loop][1])
	assert.False(t, incremented[loop][0], "increment replaces the set, it does not keep the original counts")
	assert.True(t, base[loop][0], "increment must not mutate its receiver")

	merged := sample.Union(base, incremented)
	assert.True(t, merged[loop][0])
	assert.True(t, merged[loop][1])
}

func TestMergeConcatenatesSamplesAndHistories(t *testing.T) {
	pos := ir.Position{Block: "join", Index: 0}
	a := &sample.State{
		Position:           pos,
		Samples:            []*sample.Sample{{ID: 0, Values: map[ir.Var]sample.Value{}}},
		LoopUnrolls:        sample.LoopUnrolls{},
		BranchingHistories: []sample.BranchingHistory{{sample.Any("entry")}},
	}
	b := &sample.State{
		Position:           pos,
		Samples:            []*sample.Sample{{ID: 1, Values: map[ir.Var]sample.Value{}}},
		LoopUnrolls:        sample.LoopUnrolls{},
		BranchingHistories: []sample.BranchingHistory{{sample.Any("entry")}},
	}

	merged := sample.Merge([]*sample.State{a, b})
	assert.Equal(t, pos, merged.Position)
	assert.Len(t, merged.Samples, 2)
	assert.Len(t, merged.BranchingHistories, 2)
}

func TestMergeAtDifferentPositionsPanics(t *testing.T) {
	a := &sample.State{Position: ir.Position{Block: "a", Index: 0}, LoopUnrolls: sample.LoopUnrolls{}}
	b := &sample.State{Position: ir.Position{Block: "b", Index: 0}, LoopUnrolls: sample.LoopUnrolls{}}
	require.Panics(t, func() { sample.Merge([]*sample.State{a, b}) })
}

func TestBranchingHistoryLastAndPopLast(t *testing.T) {
	h := sample.BranchingHistory{}.Append(sample.Any("entry"))
	last, ok := h.Last()
	require.True(t, ok)
	assert.True(t, last.IsAny)
	assert.Equal(t, ir.Block("entry"), last.PredominatedBy)

	popped := h.PopLast()
	assert.Len(t, popped, 0)
	_, ok = popped.Last()
	assert.False(t, ok)
}
