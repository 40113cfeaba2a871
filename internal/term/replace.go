package term

import "probwp/internal/ir"

// Replace substitutes every occurrence of Var(v) with r throughout t and
// re-normalizes (§4.B Variable replacement). Because terms are hash-consed,
// a subtree with no occurrence of v is returned unchanged (same pointer).
func (s *Store) Replace(t *Term, v ir.Var, r *Term) *Term {
	switch t.kind {
	case KindVar:
		if t.varName == v {
			return r
		}
		return t
	case KindInt, KindDouble, KindBool:
		return t
	case KindBoolToInt:
		return s.BoolToInt(s.Replace(t.unary, v, r))
	case KindNot:
		return s.Not(s.Replace(t.unary, v, r))
	case KindEqual:
		return s.Equal(s.Replace(t.lhs, v, r), s.Replace(t.rhs, v, r))
	case KindLessThan:
		return s.LessThan(s.Replace(t.lhs, v, r), s.Replace(t.rhs, v, r))
	case KindSub:
		return s.Sub(s.Replace(t.lhs, v, r), s.Replace(t.rhs, v, r))
	case KindMul:
		factors := make([]*Term, len(t.args))
		for i, f := range t.args {
			factors[i] = s.Replace(f, v, r)
		}
		return s.Mul(factors)
	case KindDiv, KindZeroDiv:
		divisors := make([]*Term, len(t.args))
		for i, d := range t.args {
			divisors[i] = s.Replace(d, v, r)
		}
		num := s.Replace(t.lhs, v, r)
		if t.kind == KindZeroDiv {
			return s.ZeroDiv(num, divisors)
		}
		return s.Div(num, divisors)
	case KindAddList:
		entries := make([]Entry, len(t.entries))
		for i, e := range t.entries {
			conds := make([]*Term, len(e.Conditions))
			for j, c := range e.Conditions {
				conds[j] = s.Replace(c, v, r)
			}
			entries[i] = Entry{Factor: e.Factor, Conditions: conds, Term: s.Replace(e.Term, v, r)}
		}
		return s.AdditionList(entries)
	default:
		panic("term: Replace on unknown kind")
	}
}

// ReplaceAll applies Replace for every (var, term) pair in subst, each built
// on the result of the previous — used by Phi handling (§4.E.4) and the WP
// step for Assign/Add/Sub/Compare (§4.E.3), which substitute one variable at
// a time into the propagated term.
func (s *Store) ReplaceAll(t *Term, subst map[ir.Var]*Term) *Term {
	for v, r := range subst {
		t = s.Replace(t, v, r)
	}
	return t
}
