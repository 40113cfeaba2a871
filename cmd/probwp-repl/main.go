// SPDX-License-Identifier: Apache-2.0
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"

	"probwp/internal/debugger"
	"probwp/internal/errdefs"
	"probwp/internal/executor"
	"probwp/internal/ir"
	"probwp/internal/slicing"
	"probwp/internal/term"
	"probwp/internal/wp"
)

const prompt = ">> "

// demoProgram is scenario 6 of the testable-properties catalog: a cowboy
// duel, decided by a sequence of fair coin flips regardless of whose turn it
// starts on.
func demoProgram() (*ir.Program, ir.DebugInfo) {
	entry := &ir.BasicBlock{
		Name: "entry",
		Instructions: []ir.Instruction{
			&ir.DiscreteDistribution{V: "turn0", Dist: []ir.WeightedOutcome{{Value: 1, Prob: 0.5}, {Value: 2, Prob: 0.5}}},
			&ir.Assign{V: "alive0", Value: ir.LitOperand(ir.BoolLit(true))},
		},
		Terminator: &ir.Jump{Target: "loop"},
	}
	loop := &ir.BasicBlock{
		Name: "loop",
		Instructions: []ir.Instruction{
			&ir.Phi{V: "turn", Choices: map[ir.Block]ir.Var{"entry": "turn0", "missedJoin": "turn2", "hit": "turn1"}},
			&ir.Phi{V: "alive", Choices: map[ir.Block]ir.Var{"entry": "alive0", "missedJoin": "alive0", "hit": "alive2"}},
		},
		Terminator: &ir.Branch{Cond: ir.VarOperand("alive"), TrueTarget: "shot", FalseTarget: "end"},
	}
	shot := &ir.BasicBlock{
		Name: "shot",
		Instructions: []ir.Instruction{
			&ir.DiscreteDistribution{V: "miss", Dist: []ir.WeightedOutcome{{Value: 0, Prob: 0.5}, {Value: 1, Prob: 0.5}}},
			&ir.Compare{V: "missed", Op: ir.CompareEq, Lhs: ir.VarOperand("miss"), Rhs: ir.LitOperand(ir.IntLit(0))},
		},
		Terminator: &ir.Branch{Cond: ir.VarOperand("missed"), TrueTarget: "missed", FalseTarget: "hit"},
	}
	missed := &ir.BasicBlock{
		Name: "missed",
		Instructions: []ir.Instruction{
			&ir.Compare{V: "turnWasOne", Op: ir.CompareEq, Lhs: ir.VarOperand("turn"), Rhs: ir.LitOperand(ir.IntLit(1))},
			&ir.Assign{V: "turnIfOne", Value: ir.LitOperand(ir.IntLit(2))},
			&ir.Assign{V: "turnIfTwo", Value: ir.LitOperand(ir.IntLit(1))},
		},
		Terminator: &ir.Branch{Cond: ir.VarOperand("turnWasOne"), TrueTarget: "missedOne", FalseTarget: "missedTwo"},
	}
	missedOne := &ir.BasicBlock{Name: "missedOne", Terminator: &ir.Jump{Target: "missedJoin"}}
	missedTwo := &ir.BasicBlock{Name: "missedTwo", Terminator: &ir.Jump{Target: "missedJoin"}}
	missedJoin := &ir.BasicBlock{
		Name:         "missedJoin",
		Instructions: []ir.Instruction{&ir.Phi{V: "turn2", Choices: map[ir.Block]ir.Var{"missedOne": "turnIfOne", "missedTwo": "turnIfTwo"}}},
		Terminator:   &ir.Jump{Target: "loop"},
	}
	hit := &ir.BasicBlock{
		Name:         "hit",
		Instructions: []ir.Instruction{&ir.Assign{V: "alive2", Value: ir.LitOperand(ir.BoolLit(false))}, &ir.Assign{V: "turn1", Value: ir.VarOperand("turn")}},
		Terminator:   &ir.Jump{Target: "loop"},
	}
	end := &ir.BasicBlock{Name: "end", Terminator: &ir.Return{}}

	program := &ir.Program{Start: "entry", Blocks: map[ir.Block]*ir.BasicBlock{
		"entry": entry, "loop": loop, "shot": shot, "missed": missed,
		"missedOne": missedOne, "missedTwo": missedTwo, "missedJoin": missedJoin,
		"hit": hit, "end": end,
	}}
	debugInfo := ir.DebugInfo{
		{Block: "loop", Index: 2}: {InstructionType: ir.DebugLoop, SourceToIRVar: map[string]ir.Var{"turn": "turn", "alive": "alive"}},
		{Block: "end", Index: 0}:  {InstructionType: ir.DebugReturn, SourceToIRVar: map[string]ir.Var{"turn": "turn"}},
	}
	return program, debugInfo
}

func main() {
	program, debugInfo := demoProgram()
	analysis := ir.Analyze(program)
	store := term.NewStore()
	wpEngine := wp.NewEngine(program, analysis, store, nil)
	slicer := slicing.NewEngine(program, analysis, store)

	ctx := context.Background()
	d, err := debugger.New(ctx, program, analysis, debugInfo, store, wpEngine, slicer, executor.Seed{7, 13}, 10000)
	if err != nil {
		color.Red("failed to initialize: %s", err)
		os.Exit(1)
	}

	color.Cyan("probwp-repl — commands: step-over, step-into <true|false>, run, save, restore, variables, slice <name>, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(prompt)
		if !scanner.Scan() {
			return
		}
		dispatch(ctx, d, strings.Fields(scanner.Text()))
	}
}

func dispatch(ctx context.Context, d *debugger.Debugger, fields []string) {
	if len(fields) == 0 {
		return
	}
	var err error
	switch fields[0] {
	case "step-over":
		err = d.StepOver(ctx)
	case "step-into":
		if len(fields) != 2 {
			color.Red("usage: step-into <true|false>")
			return
		}
		err = d.StepInto(ctx, fields[1] == "true")
	case "run":
		err = d.RunUntilEnd(ctx)
	case "save":
		d.SaveState()
	case "restore":
		err = d.RestoreState()
	case "variables":
		printVariables(ctx, d)
	case "slice":
		if len(fields) != 2 {
			color.Red("usage: slice <name>")
			return
		}
		printSlice(ctx, d, fields[1])
	case "quit":
		os.Exit(0)
	default:
		color.Red("unknown command %q", fields[0])
		return
	}
	if err != nil {
		reportError(err)
		return
	}
	fmt.Printf("at %s\n", d.Current().Position)
}

func printVariables(ctx context.Context, d *debugger.Debugger) {
	values, err := d.VariableValues(ctx, debugger.Drop)
	if err != nil {
		reportError(err)
		return
	}
	for name, results := range values {
		color.Cyan("%s:", name)
		for _, r := range results {
			fmt.Printf("  P(%s = %s) = %.4f\n", name, r.Value, r.Probability)
		}
	}
}

func printSlice(ctx context.Context, d *debugger.Debugger, name string) {
	ranges, err := d.Slice(ctx, name)
	if err != nil {
		reportError(err)
		return
	}
	color.Cyan("hideable ranges for %s:", name)
	for r := range ranges {
		fmt.Printf("  %d:%d-%d:%d\n", r.StartLine, r.StartCol, r.EndLine, r.EndCol)
	}
}

func reportError(err error) {
	switch {
	case errdefs.Is(err, errdefs.InfeasibleBranch):
		color.Yellow("infeasible: %s", err)
	case errdefs.Is(err, errdefs.AlreadyTerminated):
		color.Yellow("already terminated: %s", err)
	case errdefs.Is(err, errdefs.NoSavedState):
		color.Yellow("nothing to restore: %s", err)
	case errdefs.Is(err, errdefs.UnknownVariable):
		color.Yellow("unknown variable: %s", err)
	default:
		color.Red("%+v", err)
	}
}
