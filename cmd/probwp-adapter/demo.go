// SPDX-License-Identifier: Apache-2.0
package main

import "probwp/internal/ir"

// demoProgram is scenario 3 of the testable-properties catalog, the same
// fixture cmd/probwp-cli embeds, standing in for the program an external
// front end would otherwise supply by lowering its own AST to this IR.
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
