package ir

import (
	"fmt"

	"github.com/pkg/errors"
)

// Validate checks the §3 Invariants that are cheap to verify structurally:
// SSA (no variable assigned twice), every block ending in a terminator (true
// by construction of BasicBlock.Terminator, checked here only for nil),
// and phi choice keys matching exactly the containing block's direct
// predecessors. Violations are programmer errors (§7): Validate panics with
// a wrapped, stack-annotated diagnostic rather than returning an error, since
// a well-formed external IR generator never produces them.
func Validate(program *Program, analysis *Analysis) {
	assignedBy := map[Var]Position{}
	for _, name := range sortedBlockNames(program) {
		b := program.Blocks[name]
		if b.Terminator == nil {
			panicInvariant("block %q has no terminator", name)
		}
		for idx, inst := range b.Instructions {
			pos := Position{Block: name, Index: idx}
			if v := inst.Assignee(); v != "" {
				if prior, ok := assignedBy[v]; ok {
					panicInvariant("SSA violation: %q assigned at both %s and %s", v, prior, pos)
				}
				assignedBy[v] = pos
			}
			if phi, ok := inst.(*Phi); ok {
				validatePhiChoices(name, phi, analysis)
			}
		}
	}
}

func validatePhiChoices(block Block, phi *Phi, analysis *Analysis) {
	preds := analysis.DirectPredecessors[block]
	want := map[Block]bool{}
	for _, p := range preds {
		want[p] = true
	}
	for p := range phi.Choices {
		if !want[p] {
			panicInvariant("phi %q in block %q has a choice from %q, which is not a direct predecessor", phi.V, block, p)
		}
	}
	for p := range want {
		if _, ok := phi.Choices[p]; !ok {
			panicInvariant("phi %q in block %q is missing a choice for predecessor %q", phi.V, block, p)
		}
	}
}

func panicInvariant(format string, args ...interface{}) {
	panic(errors.Wrap(fmt.Errorf(format, args...), "ir: invariant violation"))
}
