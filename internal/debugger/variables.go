package debugger

import (
	"context"
	"fmt"
	"sort"

	"probwp/internal/ir"
	"probwp/internal/sample"
	"probwp/internal/wp"
)

// ApproximationErrorHandling selects what VariableValues does with
// probability mass lost to loop-unroll truncation (§4.E.7, §4.G
// variable_values).
type ApproximationErrorHandling int

const (
	// Drop ignores the missing mass; reported probabilities sum to less
	// than 1.
	Drop ApproximationErrorHandling = iota
	// Distribute spreads the missing mass uniformly over every reported
	// value, so probabilities sum to 1.
	Distribute
)

// VariableValue is one (value, probability) pair of a VariableValues result.
type VariableValue struct {
	Value       sample.Value
	Probability float64
}

// VariableValues enumerates, for every source variable mapped at the
// current position's debug entry, the values observed among current
// samples and their WP-refined probabilities (§4.G variable_values).
func (d *Debugger) VariableValues(ctx context.Context, handling ApproximationErrorHandling) (map[string][]VariableValue, error) {
	entry, ok := d.DebugInfo[d.current.Position]
	if !ok {
		panic("debugger: variable_values called at a position with no debug info")
	}

	out := make(map[string][]VariableValue, len(entry.SourceToIRVar))
	for source, irVar := range entry.SourceToIRVar {
		values, err := d.valuesForVariable(ctx, irVar, handling)
		if err != nil {
			return nil, fmt.Errorf("debugger: variable values for %q: %w", source, err)
		}
		out[source] = values
	}
	return out, nil
}

func (d *Debugger) valuesForVariable(ctx context.Context, v ir.Var, handling ApproximationErrorHandling) ([]VariableValue, error) {
	distinct := distinctValues(d.current.Samples, v)

	results := make([]VariableValue, 0, len(distinct))
	for _, val := range distinct {
		literal := d.Store.Int(val.Int)
		if val.IsBool {
			literal = d.Store.Bool(val.Bool)
		}
		payload := d.Store.BoolToInt(d.Store.Equal(d.Store.Var(v), literal))

		result, err := d.WP.Infer(ctx, payload, d.current.LoopUnrolls, d.current.Position, d.current.BranchingHistories)
		if err != nil {
			return nil, err
		}

		probability := zeroDiv(wp.Numeric(d.Store, result.Value), result.IntentionalFocus*result.ObserveSatisfaction)
		results = append(results, VariableValue{Value: val, Probability: probability})
	}

	if handling == Distribute && len(results) > 0 {
		missing := 0.0
		for _, r := range results {
			missing += r.Probability
		}
		missing = 1 - missing
		if missing > 0 {
			share := missing / float64(len(results))
			for i := range results {
				results[i].Probability += share
			}
		}
	}

	sort.Slice(results, func(i, j int) bool { return valueLess(results[i].Value, results[j].Value) })
	return results, nil
}

// zeroDiv is the zero-preserving division of §4.B rule 5 (`0 ./. 0 = 0`):
// a zero numerator over a zero denominator is 0, not NaN.
func zeroDiv(value, divisor float64) float64 {
	if value == 0 && divisor == 0 {
		return 0
	}
	return value / divisor
}

func distinctValues(samples []*sample.Sample, v ir.Var) []sample.Value {
	var out []sample.Value
	for _, s := range samples {
		val, ok := s.Values[v]
		if !ok {
			panic(fmt.Sprintf("debugger: sample %d has no value for %q", s.ID, v))
		}
		found := false
		for _, existing := range out {
			if existing.Equal(val) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, val)
		}
	}
	return out
}

func valueLess(a, b sample.Value) bool {
	if a.IsBool != b.IsBool {
		return !a.IsBool
	}
	if a.IsBool {
		return !a.Bool && b.Bool
	}
	return a.Int < b.Int
}
