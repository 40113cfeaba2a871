package term

import (
	"sync"

	"probwp/internal/ir"
)

// Store is a hash-consing arena: every construction method returns the
// unique, already-normalized node for its (simplified) shape. A Store is
// safe for concurrent use (the façade's worker-offload path, §5, gives each
// worker its own cache but the arena itself may be shared — construction is
// purely a function of already-interned children).
type Store struct {
	mu       sync.Mutex
	interned map[string]*Term
}

// NewStore creates an empty hash-consing arena.
func NewStore() *Store {
	return &Store{interned: map[string]*Term{}}
}

func (s *Store) intern(t *Term) *Term {
	key := t.String() + "#" + kindTag(t.kind)
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.interned[key]; ok {
		return existing
	}
	s.interned[key] = t
	return t
}

func kindTag(k Kind) string {
	return string(rune('a' + int(k)))
}

// Var constructs Var(v).
func (s *Store) Var(v ir.Var) *Term {
	return s.intern(&Term{kind: KindVar, varName: v})
}

// Int constructs the integer literal n.
func (s *Store) Int(n int) *Term {
	return s.intern(&Term{kind: KindInt, intVal: n})
}

// Double constructs the floating-point literal d.
func (s *Store) Double(d float64) *Term {
	return s.intern(&Term{kind: KindDouble, doubleVal: d})
}

// Bool constructs the boolean literal b.
func (s *Store) Bool(b bool) *Term {
	return s.intern(&Term{kind: KindBool, boolVal: b})
}

// BoolToInt converts a boolean term to 0/1, folding literals immediately
// (rule 2).
func (s *Store) BoolToInt(t *Term) *Term {
	if t.kind == KindBool {
		if t.boolVal {
			return s.Int(1)
		}
		return s.Int(0)
	}
	return s.intern(&Term{kind: KindBoolToInt, unary: t})
}

// Not negates a boolean term, folding literals immediately.
func (s *Store) Not(t *Term) *Term {
	if t.kind == KindBool {
		return s.Bool(!t.boolVal)
	}
	return s.intern(&Term{kind: KindNot, unary: t})
}

// Equal builds t1 == t2, folding to Bool when both sides are literals
// (rule 3).
func (s *Store) Equal(a, b *Term) *Term {
	if eq, ok := literalEqual(a, b); ok {
		return s.Bool(eq)
	}
	lo, hi := a, b
	if hi.String() < lo.String() {
		lo, hi = hi, lo
	}
	return s.intern(&Term{kind: KindEqual, lhs: lo, rhs: hi})
}

func literalEqual(a, b *Term) (bool, bool) {
	if a.kind == KindBool && b.kind == KindBool {
		return a.boolVal == b.boolVal, true
	}
	if a.IsNumericLiteral() && b.IsNumericLiteral() {
		return a.NumericValue() == b.NumericValue(), true
	}
	return false, false
}

// LessThan builds t1 < t2, folding to Bool when both sides are numeric
// literals (rule 3).
func (s *Store) LessThan(a, b *Term) *Term {
	if a.IsNumericLiteral() && b.IsNumericLiteral() {
		return s.Bool(a.NumericValue() < b.NumericValue())
	}
	return s.intern(&Term{kind: KindLessThan, lhs: a, rhs: b})
}

// Sub builds t1 - t2 (rule 5: Sub(x,0)=x; constant-fold literals).
func (s *Store) Sub(a, b *Term) *Term {
	if b.IsZeroLiteral() {
		return a
	}
	if a.IsNumericLiteral() && b.IsNumericLiteral() {
		return s.foldNumeric(a.NumericValue()-b.NumericValue(), a, b)
	}
	return s.intern(&Term{kind: KindSub, lhs: a, rhs: b})
}

// foldNumeric returns an Int if both original operands were Int (and the
// result is integral), else a Double.
func (s *Store) foldNumeric(v float64, operands ...*Term) *Term {
	allInt := true
	for _, o := range operands {
		if o.kind != KindInt {
			allInt = false
			break
		}
	}
	if allInt && v == float64(int(v)) {
		return s.Int(int(v))
	}
	return s.Double(v)
}

// Mul builds the n-ary product of factors (rule 4: drop 1s, a literal-0
// factor annihilates the product, flatten nested Mul, fold literal factors
// together, canonical operand order).
func (s *Store) Mul(factors []*Term) *Term {
	var flat []*Term
	for _, f := range factors {
		if f.kind == KindMul {
			flat = append(flat, f.args...)
		} else {
			flat = append(flat, f)
		}
	}

	for _, f := range flat {
		if f.IsZeroLiteral() {
			return f
		}
	}

	var literalProduct float64 = 1
	haveLiteral := false
	allInt := true
	var rest []*Term
	for _, f := range flat {
		if f.IsNumericLiteral() {
			literalProduct *= f.NumericValue()
			haveLiteral = true
			if f.kind != KindInt {
				allInt = false
			}
			continue
		}
		rest = append(rest, f)
	}

	if haveLiteral && !(literalProduct == 1) {
		var lit *Term
		if allInt && literalProduct == float64(int(literalProduct)) {
			lit = s.Int(int(literalProduct))
		} else {
			lit = s.Double(literalProduct)
		}
		rest = append(rest, lit)
	}

	rest = sortTerms(rest)

	switch len(rest) {
	case 0:
		return s.Int(1)
	case 1:
		return rest[0]
	default:
		return s.intern(&Term{kind: KindMul, args: rest})
	}
}

// Div builds numerator / (product of divisors) (rule 6: Div(0,…)=0;
// constant-fold when every operand is a numeric literal and the divisor
// product is non-zero; otherwise stays symbolic).
func (s *Store) Div(numerator *Term, divisors []*Term) *Term {
	return s.buildDiv(KindDiv, numerator, divisors)
}

// ZeroDiv builds the zero-preserving division: a literal numerator over a
// literal divisor product of zero yields 0 (0 ./. 0 = 0, and likewise for a
// non-zero numerator, where Div stays symbolic); otherwise it behaves like
// Div.
func (s *Store) ZeroDiv(numerator *Term, divisors []*Term) *Term {
	return s.buildDiv(KindZeroDiv, numerator, divisors)
}

func (s *Store) buildDiv(kind Kind, numerator *Term, divisors []*Term) *Term {
	if numerator.IsZeroLiteral() {
		return numerator
	}
	divisors = sortTerms(divisors)

	allLiteral := numerator.IsNumericLiteral()
	product := 0.0
	if allLiteral {
		product = numerator.NumericValue()
	}
	divisorsAllInt := numerator.kind == KindInt
	for _, d := range divisors {
		if !d.IsNumericLiteral() {
			allLiteral = false
			break
		}
	}
	if allLiteral {
		divProduct := 1.0
		divAllInt := true
		for _, d := range divisors {
			divProduct *= d.NumericValue()
			if d.kind != KindInt {
				divAllInt = false
			}
		}
		if divProduct == 0 {
			if kind == KindZeroDiv {
				return s.Int(0)
			}
			// Non-zero numerator over a literal-zero divisor with plain Div:
			// leave symbolic rather than manufacture NaN/Inf.
		} else {
			result := product / divProduct
			allInt := divisorsAllInt && divAllInt
			if allInt && result == float64(int(result)) {
				return s.Int(int(result))
			}
			return s.Double(result)
		}
	}

	return s.intern(&Term{kind: kind, lhs: numerator, args: divisors})
}

// AdditionList builds a normalized n-ary sum (rule 7). It is the
// constructor every addition in this module funnels through; a bare "Add"
// node never exists on its own (§3: addition is normalized to AdditionList).
func (s *Store) AdditionList(entries []Entry) *Term {
	es := normalizeEntries(s, entries)
	switch len(es) {
	case 0:
		return s.Int(0)
	case 1:
		e := es[0]
		if len(e.Conditions) == 0 {
			if e.Factor == 1 {
				return e.Term
			}
			literal := func(v float64) *Term {
				if v == float64(int(v)) {
					return s.Int(int(v))
				}
				return s.Double(v)
			}
			if e.Term.IsNumericLiteral() {
				return literal(e.Factor * e.Term.NumericValue())
			}
			return s.Mul([]*Term{e.Term, literal(e.Factor)})
		}
	}
	return s.intern(&Term{kind: KindAddList, entries: es})
}

// Sum is a convenience wrapping plain terms (factor 1, no conditions) into
// an AdditionList — the general-purpose "t1 + t2 + ... + tn".
func (s *Store) Sum(terms ...*Term) *Term {
	entries := make([]Entry, len(terms))
	for i, t := range terms {
		entries[i] = Entry{Factor: 1, Term: t}
	}
	return s.AdditionList(entries)
}

// Scale multiplies every entry of an addition (or a bare term, treated as a
// single entry) by a scalar factor — used by the WP engine's distribution
// step (§4.E.3) and cache query normalization (§4.E.8).
func (s *Store) Scale(t *Term, factor float64) *Term {
	if factor == 1 {
		return t
	}
	if t.kind == KindAddList {
		entries := make([]Entry, len(t.entries))
		for i, e := range t.entries {
			entries[i] = Entry{Factor: e.Factor * factor, Conditions: e.Conditions, Term: e.Term}
		}
		return s.AdditionList(entries)
	}
	return s.AdditionList([]Entry{{Factor: factor, Term: t}})
}
