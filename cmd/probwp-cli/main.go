// SPDX-License-Identifier: Apache-2.0
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"probwp/internal/debugger"
	"probwp/internal/executor"
	"probwp/internal/ir"
	"probwp/internal/slicing"
	"probwp/internal/term"
	"probwp/internal/wp"
)

// demoProgram is scenario 3 of the testable-properties catalog: a fair coin
// decides whether y keeps its default of 10 or is reassigned to 20.
func demoProgram() (*ir.Program, ir.DebugInfo) {
	entry := &ir.BasicBlock{
		Name: "entry",
		Instructions: []ir.Instruction{
			&ir.DiscreteDistribution{V: "x", Dist: []ir.WeightedOutcome{{Value: 1, Prob: 0.5}, {Value: 2, Prob: 0.5}}},
			&ir.Assign{V: "y0", Value: ir.LitOperand(ir.IntLit(10))},
			&ir.Compare{V: "cond", Op: ir.CompareEq, Lhs: ir.VarOperand("x"), Rhs: ir.LitOperand(ir.IntLit(2))},
		},
		Terminator: &ir.Branch{Cond: ir.VarOperand("cond"), TrueTarget: "then", FalseTarget: "join"},
	}
	then := &ir.BasicBlock{
		Name:         "then",
		Instructions: []ir.Instruction{&ir.Assign{V: "y1", Value: ir.LitOperand(ir.IntLit(20))}},
		Terminator:   &ir.Jump{Target: "join"},
	}
	join := &ir.BasicBlock{
		Name: "join",
		Instructions: []ir.Instruction{
			&ir.Phi{V: "y", Choices: map[ir.Block]ir.Var{"entry": "y0", "then": "y1"}},
		},
		Terminator: &ir.Return{},
	}
	program := &ir.Program{Start: "entry", Blocks: map[ir.Block]*ir.BasicBlock{
		"entry": entry, "then": then, "join": join,
	}}
	debugInfo := ir.DebugInfo{
		{Block: "entry", Index: 3}: {InstructionType: ir.DebugIfElseBranch, SourceToIRVar: map[string]ir.Var{"x": "x"}},
		{Block: "then", Index: 1}:  {InstructionType: ir.DebugSimple, SourceToIRVar: map[string]ir.Var{"y": "y1"}},
		{Block: "join", Index: 1}:  {InstructionType: ir.DebugReturn, SourceToIRVar: map[string]ir.Var{"y": "y"}},
	}
	return program, debugInfo
}

func main() {
	if err := run(); err != nil {
		color.Red("%+v", err)
		os.Exit(1)
	}
}

func run() error {
	program, debugInfo := demoProgram()
	analysis := ir.Analyze(program)
	store := term.NewStore()
	wpEngine := wp.NewEngine(program, analysis, store, nil)
	slicer := slicing.NewEngine(program, analysis, store)

	ctx := context.Background()
	d, err := debugger.New(ctx, program, analysis, debugInfo, store, wpEngine, slicer, executor.Seed{1, 2}, 10000)
	if err != nil {
		return errors.Wrap(err, "probwp-cli: initialize debugger")
	}

	if err := d.RunUntilEnd(ctx); err != nil {
		return errors.Wrap(err, "probwp-cli: run to end")
	}

	values, err := d.VariableValues(ctx, debugger.Distribute)
	if err != nil {
		return errors.Wrap(err, "probwp-cli: variable values")
	}

	for name, results := range values {
		color.Cyan("%s:", name)
		for _, r := range results {
			fmt.Printf("  P(%s = %v) = %.4f\n", name, r.Value, r.Probability)
		}
	}

	color.Green("✅ reached end of program")
	return nil
}
