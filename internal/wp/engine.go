package wp

import (
	"context"
	"fmt"
	"strings"

	"github.com/sasha-s/go-deadlock"

	"probwp/internal/ir"
	"probwp/internal/sample"
	"probwp/internal/term"
)

// Engine runs backward WP inference over one fixed (program, analysis)
// pair, with its own private cache (§4.E.8, §5: each worker owns its own
// cache — never shared across threads).
type Engine struct {
	Program  *ir.Program
	Analysis *ir.Analysis
	Store    *term.Store
	Oracle   term.EquivalenceOracle // optional; see §6. Never consulted for correctness, only left available for future cache-hit widening.

	mu    deadlock.Mutex
	cache map[string]aggregate
}

// NewEngine constructs an Engine with a fresh, empty cache.
func NewEngine(program *ir.Program, analysis *ir.Analysis, store *term.Store, oracle term.EquivalenceOracle) *Engine {
	return &Engine{Program: program, Analysis: analysis, Store: store, Oracle: oracle, cache: map[string]aggregate{}}
}

// Clone returns an Engine over the same immutable program/analysis/store
// (all safe to share by reference, §5) but with its own private cache, for
// façade worker-offload.
func (e *Engine) Clone() *Engine {
	return NewEngine(e.Program, e.Analysis, e.Store, e.Oracle)
}

// Result is the public outcome of Infer (§4.E.1).
type Result struct {
	Value               *term.Term
	RunsNotCutOff        float64
	ObserveSatisfaction  float64
	IntentionalFocus     float64
}

// Infer propagates payload backward from stopPosition to program start,
// once per distinct input branching history (an exact repeat describes the
// same paths and is skipped), and sums the terminating contributions
// (§4.E.1, §4.E.6).
func (e *Engine) Infer(ctx context.Context, payload *term.Term, loopUnrolls sample.LoopUnrolls, stopPosition ir.Position, branchingHistories []sample.BranchingHistory) (Result, error) {
	lost := e.initialLostBlocks(stopPosition)

	var total aggregate
	haveTotal := false
	seen := map[string]bool{}
	for _, h := range branchingHistories {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		var hk strings.Builder
		writeHistory(&hk, h)
		if seen[hk.String()] {
			continue
		}
		seen[hk.String()] = true
		init := &state{
			position:                    stopPosition,
			value:                       payload,
			focusRate:                   e.Store.Int(1),
			ignoringFocusRate:           e.Store.Int(1),
			observeSatRate:              e.Store.Int(1),
			intentionalLossRate:         e.Store.Int(0),
			remainingLoopUnrolls:        loopUnrolls.Clone(),
			branchingHistory:            h.Clone(),
			generateLostStatesForBlocks: cloneBlockSet(lost),
		}
		a, err := e.infer(ctx, init)
		if err != nil {
			return Result{}, err
		}
		if !haveTotal {
			total, haveTotal = a, true
		} else {
			total = sumAggregate(e.Store, total, a)
		}
	}
	if !haveTotal {
		total = zeroAggregate(e.Store)
	}

	runsNotCutOff := numeric(e.Store, total.focusRate)
	var intentionalLoss float64
	if runsNotCutOff != 0 {
		intentionalLoss = numeric(e.Store, total.intentionalLossRate) / runsNotCutOff
	}
	intentionalFocus := 1 - intentionalLoss
	var observeSatisfaction float64
	denom := runsNotCutOff * intentionalFocus
	if denom != 0 {
		observeSatisfaction = numeric(e.Store, total.observeSatRate) / denom
	}

	return Result{
		Value:               total.value,
		RunsNotCutOff:       runsNotCutOff,
		ObserveSatisfaction: observeSatisfaction,
		IntentionalFocus:    intentionalFocus,
	}, nil
}

// Numeric extracts t's numeric value the same way Infer's final assembly
// does (§4.E.9), for façade callers (e.g. internal/debugger.VariableValues)
// that need a plain float out of a Result.Value built from a closed query.
func Numeric(store *term.Store, t *term.Term) float64 {
	return numeric(store, t)
}

// numeric extracts t's numeric value. A fully closed query (every sample
// space exhausted, no free variables) always reduces to a literal or to a
// single-entry, condition-free AdditionList carrying a constant factor over
// a literal — the same shape extractConstantFactor recognizes for cache
// normalization. Anything else falls back to 0, which guards against
// malformed input rather than masking a real defect.
func numeric(store *term.Store, t *term.Term) float64 {
	if t.IsNumericLiteral() {
		return t.NumericValue()
	}
	if factor, rest, ok := extractConstantFactor(store, t); ok && rest.IsNumericLiteral() {
		return factor * rest.NumericValue()
	}
	return 0
}

// initialLostBlocks computes the set of blocks that are neither
// postdominated nor predominated by stop's block (§4.E.2
// generate_lost_states_for_blocks).
func (e *Engine) initialLostBlocks(stop ir.Position) map[ir.Block]bool {
	set := map[ir.Block]bool{}
	for name := range e.Program.Blocks {
		if !e.Analysis.Postdominates(stop.Block, name) && !e.Analysis.Predominates(stop.Block, name) {
			set[name] = true
		}
	}
	return set
}

// terminated reports the top-of-program termination condition (§4.E.6): s
// sits at the start block's first position and its branching history holds
// no unconsumed deliberate Choice (only Any entries, or nothing).
func (e *Engine) terminated(s *state) bool {
	if s.position != (ir.Position{Block: e.Program.Start, Index: 0}) {
		return false
	}
	for _, c := range s.branchingHistory {
		if !c.IsAny {
			return false
		}
	}
	return true
}

// infer is the memoized recursive worklist driver: it returns the summed
// aggregate of every terminating descendant of s, consulting and filling
// the cache with query normalization at loop-inducing positions (§4.E.8).
func (e *Engine) infer(ctx context.Context, s *state) (aggregate, error) {
	if err := ctx.Err(); err != nil {
		return aggregate{}, err
	}
	if e.terminated(s) {
		return aggregateFrom(s), nil
	}

	working, scale, normalized := e.normalize(s)
	key := e.cacheKey(working)

	e.mu.Lock()
	cached, ok := e.cache[key]
	e.mu.Unlock()
	if ok {
		if normalized {
			return scaleAggregate(e.Store, cached, scale), nil
		}
		return cached, nil
	}

	result, err := e.step(ctx, working)
	if err != nil {
		return aggregate{}, err
	}

	e.mu.Lock()
	e.cache[key] = result
	e.mu.Unlock()

	if normalized {
		return scaleAggregate(e.Store, result, scale), nil
	}
	return result, nil
}

// step dispatches a single state on whatever lies immediately before its
// position: a non-control instruction (§4.E.3), a run of phis folded into
// cross-block transfer (§4.E.4), or cross-block transfer at block start
// (§4.E.5).
func (e *Engine) step(ctx context.Context, s *state) (aggregate, error) {
	b := e.Program.Block(s.position.Block)
	phiCount := firstNonPhiIndex(b)

	if s.position.Index > phiCount {
		inst := b.Instructions[s.position.Index-1]
		next := e.stepInstruction(s, inst)
		return e.infer(ctx, next)
	}

	children := e.crossBlockTransfer(s, b, phiCount)
	var result aggregate
	have := false
	for _, c := range children {
		a, err := e.infer(ctx, c)
		if err != nil {
			return aggregate{}, err
		}
		if !have {
			result, have = a, true
		} else {
			result = sumAggregate(e.Store, result, a)
		}
	}
	if !have {
		result = zeroAggregate(e.Store)
	}
	return result, nil
}

func firstNonPhiIndex(b *ir.BasicBlock) int {
	count := 0
	for _, inst := range b.Instructions {
		if _, ok := inst.(*ir.Phi); !ok {
			break
		}
		count++
	}
	return count
}

// stepInstruction is §4.E.3: moves one instruction earlier in the same
// block.
func (e *Engine) stepInstruction(s *state, inst ir.Instruction) *state {
	switch i := inst.(type) {
	case *ir.Assign:
		return e.substitute(s, i.V, e.operandTerm(i.Value))
	case *ir.Add:
		val := e.Store.Sum(e.operandTerm(i.Lhs), e.operandTerm(i.Rhs))
		return e.substitute(s, i.V, val)
	case *ir.Sub:
		val := e.Store.Sub(e.operandTerm(i.Lhs), e.operandTerm(i.Rhs))
		return e.substitute(s, i.V, val)
	case *ir.Compare:
		lhs, rhs := e.operandTerm(i.Lhs), e.operandTerm(i.Rhs)
		var val *term.Term
		switch i.Op {
		case ir.CompareEq:
			val = e.Store.Equal(lhs, rhs)
		case ir.CompareLt:
			val = e.Store.LessThan(lhs, rhs)
		default:
			panic("wp: unknown compare op")
		}
		return e.substitute(s, i.V, val)
	case *ir.DiscreteDistribution:
		return e.stepDiscreteDistribution(s, i)
	case *ir.Observe:
		return e.stepObserve(s, i)
	default:
		panic(fmt.Sprintf("wp: unexpected instruction kind %T in backward step", inst))
	}
}

func (e *Engine) substitute(s *state, v ir.Var, val *term.Term) *state {
	next := s.clone()
	next.position = ir.Position{Block: s.position.Block, Index: s.position.Index - 1}
	next.value = e.Store.Replace(s.value, v, val)
	next.focusRate = e.Store.Replace(s.focusRate, v, val)
	next.ignoringFocusRate = e.Store.Replace(s.ignoringFocusRate, v, val)
	next.observeSatRate = e.Store.Replace(s.observeSatRate, v, val)
	next.intentionalLossRate = e.Store.Replace(s.intentionalLossRate, v, val)
	return next
}

func (e *Engine) stepDiscreteDistribution(s *state, d *ir.DiscreteDistribution) *state {
	var valueEntries, focusEntries, ignoreEntries, obsEntries, lossEntries []term.Entry
	for _, wo := range d.Dist {
		k := e.Store.Int(wo.Value)
		valueEntries = append(valueEntries, term.Entry{Factor: wo.Prob, Term: e.Store.Replace(s.value, d.V, k)})
		focusEntries = append(focusEntries, term.Entry{Factor: wo.Prob, Term: e.Store.Replace(s.focusRate, d.V, k)})
		ignoreEntries = append(ignoreEntries, term.Entry{Factor: wo.Prob, Term: e.Store.Replace(s.ignoringFocusRate, d.V, k)})
		obsEntries = append(obsEntries, term.Entry{Factor: wo.Prob, Term: e.Store.Replace(s.observeSatRate, d.V, k)})
		lossEntries = append(lossEntries, term.Entry{Factor: wo.Prob, Term: e.Store.Replace(s.intentionalLossRate, d.V, k)})
	}
	next := s.clone()
	next.position = ir.Position{Block: s.position.Block, Index: s.position.Index - 1}
	next.value = e.Store.AdditionList(valueEntries)
	next.focusRate = e.Store.AdditionList(focusEntries)
	next.ignoringFocusRate = e.Store.AdditionList(ignoreEntries)
	next.observeSatRate = e.Store.AdditionList(obsEntries)
	next.intentionalLossRate = e.Store.AdditionList(lossEntries)
	return next
}

func (e *Engine) stepObserve(s *state, o *ir.Observe) *state {
	indicator := e.Store.BoolToInt(e.operandTerm(o.Cond))
	next := s.clone()
	next.position = ir.Position{Block: s.position.Block, Index: s.position.Index - 1}
	next.value = e.Store.Mul([]*term.Term{indicator, s.value})
	next.observeSatRate = e.Store.Mul([]*term.Term{indicator, s.observeSatRate})
	// The two focus rates are deliberately left untouched (§4.E.3).
	return next
}

func (e *Engine) operandTerm(op ir.Operand) *term.Term {
	if op.IsVar() {
		return e.Store.Var(op.Var)
	}
	if op.Lit.IsBool {
		return e.Store.Bool(op.Lit.Bool)
	}
	return e.Store.Int(op.Lit.Int)
}
