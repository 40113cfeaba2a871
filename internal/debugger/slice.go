package debugger

import (
	"context"
	"fmt"

	"probwp/internal/errdefs"
	"probwp/internal/ir"
)

// Slice delegates to the slicing engine for the IR variable sourceVariable
// maps to at the current position, then returns the complement of the
// relevant source ranges — the ranges a user can collapse without losing
// any information about sourceVariable's distribution (§4.G slice).
func (d *Debugger) Slice(ctx context.Context, sourceVariable string) (map[ir.SourceRange]bool, error) {
	entry, ok := d.DebugInfo[d.current.Position]
	if !ok {
		panic("debugger: slice called at a position with no debug info")
	}
	irVar, ok := entry.SourceToIRVar[sourceVariable]
	if !ok {
		return nil, fmt.Errorf("debugger: slice %q: %w", sourceVariable, errdefs.UnknownVariable)
	}

	result, err := d.Slicer.Slice(ctx, irVar, d.current.LoopUnrolls, d.current.Position, d.current.BranchingHistories)
	if err != nil {
		return nil, err
	}

	relevantBlocks := map[ir.Block]bool{}
	for pos := range result.Relevant {
		relevantBlocks[pos.Block] = true
	}

	complement := map[ir.SourceRange]bool{}
	for pos, debugEntry := range d.DebugInfo {
		// A debug-info position names one source statement's block (this
		// module's IR lowers one statement per block); the statement is
		// relevant if the slice touched anything in that block, not only
		// the exact stop position, since the stop sits at the block's
		// terminator while the tagged change is on the instruction before it.
		if !result.Relevant[pos] && !relevantBlocks[pos.Block] {
			complement[debugEntry.SourceRange] = true
		}
	}
	return complement, nil
}
