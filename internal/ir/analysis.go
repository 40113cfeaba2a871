package ir

import "sort"

// Analysis holds the structural analyses of an IR program (§3, §4.A):
// direct predecessor/successor sets, (proper) pre/postdominators, immediate
// (post)dominators, loops, and loop-inducing blocks. It is computed once per
// Program and is immutable thereafter — safe to share by reference across
// every component and every Debugger.Clone (§5).
type Analysis struct {
	Program *Program

	DirectPredecessors map[Block][]Block
	DirectSuccessors   map[Block][]Block

	Predominators  map[Block]map[Block]bool
	Postdominators map[Block]map[Block]bool

	ImmediatePredominator  map[Block]Block // absent for the start block
	ImmediatePostdominator map[Block]Block // absent for the return block

	Loops              []Loop
	LoopInducingBlocks map[Block]bool
}

// Loop identifies a simple cycle in the CFG by its condition block (the
// cycle member whose Branch terminator exits the loop on one arm and
// re-enters the body on the other) and the body-entry block that Branch
// targets to repeat.
type Loop struct {
	Condition Block
	BodyStart Block
	Path      []Block // full cycle, starting at Condition
}

// ProperPredominators returns Predominators[b] minus b itself.
func (a *Analysis) ProperPredominators(b Block) map[Block]bool {
	return without(a.Predominators[b], b)
}

// ProperPostdominators returns Postdominators[b] minus b itself.
func (a *Analysis) ProperPostdominators(b Block) map[Block]bool {
	return without(a.Postdominators[b], b)
}

func without(set map[Block]bool, excl Block) map[Block]bool {
	out := make(map[Block]bool, len(set))
	for k := range set {
		if k != excl {
			out[k] = true
		}
	}
	return out
}

// Predominates reports whether p predominates b (p is in Predominators[b],
// including p == b).
func (a *Analysis) Predominates(p, b Block) bool {
	return a.Predominators[b][p]
}

// Postdominates reports whether q postdominates b (q is in
// Postdominators[b], including q == b).
func (a *Analysis) Postdominates(q, b Block) bool {
	return a.Postdominators[b][q]
}

// IsLoopCondition reports whether b is the condition block of at least one
// loop.
func (a *Analysis) IsLoopCondition(b Block) bool {
	return a.LoopInducingBlocks[b]
}

// LoopOf returns the loop whose condition block is b, or false if there is
// none. When several loops share a condition block (nested nested re-entry
// is not possible in this language, but the normalized-cycle search can in
// principle report more than one simple cycle through the same header), the
// first in a.Loops order (sorted by Condition, then BodyStart) is returned —
// callers needing all of them should use LoopsAt instead.
func (a *Analysis) LoopOf(b Block) (Loop, bool) {
	for _, l := range a.Loops {
		if l.Condition == b {
			return l, true
		}
	}
	return Loop{}, false
}

// LoopsAt returns every loop whose condition block is b.
func (a *Analysis) LoopsAt(b Block) []Loop {
	var out []Loop
	for _, l := range a.Loops {
		if l.Condition == b {
			out = append(out, l)
		}
	}
	return out
}

// Analyze computes the structural analyses of program, rooted at its start
// block.
func Analyze(program *Program) *Analysis {
	a := &Analysis{Program: program}
	a.computeEdges()
	a.Predominators = computeDominators(program.Start, a.DirectPredecessors, a.DirectSuccessors, program)
	returnBlock := findReturnBlock(program)
	if returnBlock != "" {
		a.Postdominators = computeDominators(returnBlock, a.DirectSuccessors, a.DirectPredecessors, program)
	} else {
		a.Postdominators = map[Block]map[Block]bool{}
	}
	a.ImmediatePredominator = computeImmediateDominators(a.Predominators, program.Start)
	a.ImmediatePostdominator = computeImmediateDominators(a.Postdominators, returnBlock)
	a.Loops = findLoops(program, a.DirectSuccessors)
	a.LoopInducingBlocks = map[Block]bool{}
	for _, l := range a.Loops {
		a.LoopInducingBlocks[l.Condition] = true
	}
	return a
}

func findReturnBlock(program *Program) Block {
	for name, b := range program.Blocks {
		if _, ok := b.Terminator.(*Return); ok {
			return name
		}
	}
	return ""
}

func (a *Analysis) computeEdges() {
	a.DirectSuccessors = map[Block][]Block{}
	a.DirectPredecessors = map[Block][]Block{}
	names := sortedBlockNames(a.Program)
	for _, name := range names {
		a.DirectSuccessors[name] = nil
		a.DirectPredecessors[name] = nil
	}
	for _, name := range names {
		b := a.Program.Blocks[name]
		for _, succ := range b.Terminator.Successors() {
			a.DirectSuccessors[name] = append(a.DirectSuccessors[name], succ)
			a.DirectPredecessors[succ] = append(a.DirectPredecessors[succ], name)
		}
	}
}

func sortedBlockNames(program *Program) []Block {
	names := make([]Block, 0, len(program.Blocks))
	for name := range program.Blocks {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// computeDominators is the standard iterative dataflow fixpoint (§4.A):
// every node except root starts at "all blocks", is intersected against the
// (already-computed) dominator sets of its predecessors (in the
// predecessors map passed in — callers swap pred/succ to get
// postdominators), until nothing changes.
func computeDominators(root Block, preds, succs map[Block][]Block, program *Program) map[Block]map[Block]bool {
	allBlocks := map[Block]bool{}
	for name := range program.Blocks {
		allBlocks[name] = true
	}

	reachable := reachableFrom(root, succs)

	dom := map[Block]map[Block]bool{}
	for name := range reachable {
		if name == root {
			dom[name] = map[Block]bool{root: true}
		} else {
			dom[name] = cloneSet(allBlocks)
		}
	}

	order := sortedKeys(reachable)
	changed := true
	for changed {
		changed = false
		for _, name := range order {
			if name == root {
				continue
			}
			var merged map[Block]bool
			for _, p := range preds[name] {
				if !reachable[p] {
					continue
				}
				if merged == nil {
					merged = cloneSet(dom[p])
				} else {
					merged = intersect(merged, dom[p])
				}
			}
			if merged == nil {
				merged = map[Block]bool{}
			}
			merged[name] = true
			if !setEqual(merged, dom[name]) {
				dom[name] = merged
				changed = true
			}
		}
	}
	return dom
}

func reachableFrom(root Block, succs map[Block][]Block) map[Block]bool {
	seen := map[Block]bool{root: true}
	stack := []Block{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, s := range succs[n] {
			if !seen[s] {
				seen[s] = true
				stack = append(stack, s)
			}
		}
	}
	return seen
}

func cloneSet(s map[Block]bool) map[Block]bool {
	out := make(map[Block]bool, len(s))
	for k := range s {
		out[k] = true
	}
	return out
}

func intersect(a, b map[Block]bool) map[Block]bool {
	out := map[Block]bool{}
	for k := range a {
		if b[k] {
			out[k] = true
		}
	}
	return out
}

func setEqual(a, b map[Block]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[Block]bool) []Block {
	out := make([]Block, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// computeImmediateDominators derives the immediate (post)dominator of every
// block from its full (post)dominator set: the unique proper dominator that
// does not dominate any other proper dominator of b (§4.A). The root itself
// has none.
func computeImmediateDominators(dom map[Block]map[Block]bool, root Block) map[Block]Block {
	idom := map[Block]Block{}
	for b, set := range dom {
		if b == root {
			continue
		}
		proper := without(set, b)
		if len(proper) == 0 {
			continue
		}
		for candidate := range proper {
			dominatesAnotherProper := false
			for other := range proper {
				if other == candidate {
					continue
				}
				if dom[other][candidate] {
					dominatesAnotherProper = true
					break
				}
			}
			if !dominatesAnotherProper {
				idom[b] = candidate
				break
			}
		}
	}
	return idom
}

// findLoops enumerates simple cycles in the CFG by searching, from every
// block, paths back to that same block without revisiting an intermediate
// node (§4.A, §9). Each cycle is deduplicated in its canonical (minimum-name
// rotation) form, then re-rotated to start at its actual condition block —
// the cycle member whose Branch terminator has one target inside the cycle
// and one outside — before being recorded as a Loop.
func findLoops(program *Program, succs map[Block][]Block) []Loop {
	names := sortedBlockNames(program)
	seenCycles := map[string]bool{}
	var loops []Loop

	for _, start := range names {
		var path []Block
		visited := map[Block]bool{}
		var walk func(cur Block)
		walk = func(cur Block) {
			path = append(path, cur)
			visited[cur] = true
			for _, next := range succs[cur] {
				if next == start && len(path) > 0 {
					cycle := normalizeCycle(append([]Block{}, path...))
					key := cycleKey(cycle)
					if !seenCycles[key] {
						seenCycles[key] = true
						if loop, ok := buildLoop(program, cycle); ok {
							loops = append(loops, loop)
						}
					}
					continue
				}
				if !visited[next] {
					walk(next)
				}
			}
			path = path[:len(path)-1]
			delete(visited, cur)
		}
		walk(start)
	}

	sort.Slice(loops, func(i, j int) bool {
		if loops[i].Condition != loops[j].Condition {
			return loops[i].Condition < loops[j].Condition
		}
		return loops[i].BodyStart < loops[j].BodyStart
	})
	return loops
}

func normalizeCycle(path []Block) []Block {
	minIdx := 0
	for i, b := range path {
		if b < path[minIdx] {
			minIdx = i
		}
	}
	return append(append([]Block{}, path[minIdx:]...), path[:minIdx]...)
}

func cycleKey(cycle []Block) string {
	s := ""
	for _, b := range cycle {
		s += string(b) + ","
	}
	return s
}

func indexOf(path []Block, b Block) int {
	for i, x := range path {
		if x == b {
			return i
		}
	}
	return -1
}

// buildLoop picks cycle's condition block as the member whose Branch
// terminator has exactly one target inside the cycle (continuing the loop)
// and one outside (exiting it), then rotates cycle to start there. A cycle
// with no such Branch (every member ends in a plain Jump) names no loop
// condition and is not a real loop construct; it is dropped.
func buildLoop(program *Program, cycle []Block) (Loop, bool) {
	inCycle := map[Block]bool{}
	for _, b := range cycle {
		inCycle[b] = true
	}
	for _, b := range cycle {
		branch, ok := program.Blocks[b].Terminator.(*Branch)
		if !ok {
			continue
		}
		trueIn, falseIn := inCycle[branch.TrueTarget], inCycle[branch.FalseTarget]
		var bodyStart Block
		switch {
		case trueIn && !falseIn:
			bodyStart = branch.TrueTarget
		case falseIn && !trueIn:
			bodyStart = branch.FalseTarget
		default:
			continue
		}
		idx := indexOf(cycle, b)
		path := append(append([]Block{}, cycle[idx:]...), cycle[:idx]...)
		return Loop{Condition: b, BodyStart: bodyStart, Path: path}, true
	}
	return Loop{}, false
}
