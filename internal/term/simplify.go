package term

import "sort"

// normalizeEntries applies §4.B rule 7's AdditionList normalization as a
// sequence of named passes run to a fixpoint, mirroring an optimization-pass
// pipeline shape applied to addition-list entries instead of whole IR
// functions.
func normalizeEntries(s *Store, entries []Entry) []Entry {
	es := append([]Entry{}, entries...)
	for {
		before := len(es)
		es = dropVacuousEntries(es)
		es = hoistNumericFactors(s, es)
		es = hoistBoolToIntConditions(s, es)
		es = flattenNestedAddLists(es)
		es = mergeEqualEntries(es)
		merged, changed := cancelComplementaryConditions(s, es)
		es = merged
		if !changed && len(es) == before {
			break
		}
	}
	es = canonicalOrder(es)
	return es
}

// dropVacuousEntries removes entries with factor 0, term 0, a condition of
// Bool(false), or both c and Not(c) among the conditions; it also strips
// Bool(true) out of every conditions set.
func dropVacuousEntries(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Factor == 0 {
			continue
		}
		if e.Term.IsZeroLiteral() {
			continue
		}
		conds := stripTrue(e.Conditions)
		if containsFalse(conds) || containsComplementaryPair(conds) {
			continue
		}
		out = append(out, Entry{Factor: e.Factor, Conditions: conds, Term: e.Term})
	}
	return out
}

func stripTrue(conds []*Term) []*Term {
	var out []*Term
	for _, c := range conds {
		if c.kind == KindBool && c.boolVal {
			continue
		}
		out = append(out, c)
	}
	return out
}

func containsFalse(conds []*Term) bool {
	for _, c := range conds {
		if c.kind == KindBool && !c.boolVal {
			return true
		}
	}
	return false
}

func containsComplementaryPair(conds []*Term) bool {
	seen := map[string]bool{}
	negSeen := map[string]bool{}
	for _, c := range conds {
		if c.kind == KindNot {
			negSeen[c.unary.String()] = true
		} else {
			seen[c.String()] = true
		}
	}
	for k := range seen {
		if negSeen[k] {
			return true
		}
	}
	return false
}

// hoistNumericFactors pulls a numeric-literal factor appearing at the top of
// entry.Term out into entry.Factor: Mul([lit, rest...]) has already folded
// its literal factors into a single leading factor via Store.Mul, so here we
// just peel a bare numeric-literal Term (the whole term is the literal) or a
// KindMul whose first (sorted) operand is numeric.
func hoistNumericFactors(s *Store, entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		t := e.Term
		factor := e.Factor
		if t.IsNumericLiteral() {
			out[i] = Entry{Factor: factor * t.NumericValue(), Conditions: e.Conditions, Term: s.Int(1)}
			continue
		}
		if t.kind == KindMul {
			var lit *Term
			var rest []*Term
			for _, f := range t.args {
				if lit == nil && f.IsNumericLiteral() {
					lit = f
					continue
				}
				rest = append(rest, f)
			}
			if lit != nil {
				out[i] = Entry{Factor: factor * lit.NumericValue(), Conditions: e.Conditions, Term: s.Mul(rest)}
				continue
			}
		}
		out[i] = e
	}
	return out
}

// hoistBoolToIntConditions pulls BoolToInt(c) multiplicative factors out of
// entry.Term and into entry.Conditions: BoolToInt(c) is 0/1, equivalent to
// gating the entry on c.
func hoistBoolToIntConditions(s *Store, entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	for i, e := range entries {
		t := e.Term
		conds := e.Conditions
		if t.kind == KindBoolToInt {
			out[i] = Entry{Factor: e.Factor, Conditions: addCondition(conds, t.unary), Term: s.Int(1)}
			continue
		}
		if t.kind == KindMul {
			var rest []*Term
			newConds := conds
			changed := false
			for _, f := range t.args {
				if f.kind == KindBoolToInt {
					newConds = addCondition(newConds, f.unary)
					changed = true
					continue
				}
				rest = append(rest, f)
			}
			if changed {
				out[i] = Entry{Factor: e.Factor, Conditions: newConds, Term: s.Mul(rest)}
				continue
			}
		}
		out[i] = e
	}
	return out
}

func addCondition(conds []*Term, c *Term) []*Term {
	for _, existing := range conds {
		if existing.String() == c.String() {
			return conds
		}
	}
	return append(append([]*Term{}, conds...), c)
}

// flattenNestedAddLists inlines any entry whose Term is itself an
// AdditionList, multiplying factors and unioning conditions.
func flattenNestedAddLists(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Term.kind == KindAddList {
			for _, inner := range e.Term.entries {
				conds := inner.Conditions
				for _, c := range e.Conditions {
					conds = addCondition(conds, c)
				}
				out = append(out, Entry{Factor: e.Factor * inner.Factor, Conditions: conds, Term: inner.Term})
			}
			continue
		}
		out = append(out, e)
	}
	return out
}

// mergeEqualEntries sums the factors of entries that share an identical
// (term, condition-set) signature.
func mergeEqualEntries(entries []Entry) []Entry {
	type key = string
	order := []key{}
	byKey := map[key]Entry{}
	for _, e := range entries {
		k := entrySignature(e.Term, e.Conditions)
		if existing, ok := byKey[k]; ok {
			existing.Factor += e.Factor
			byKey[k] = existing
		} else {
			byKey[k] = e
			order = append(order, k)
		}
	}
	out := make([]Entry, 0, len(order))
	for _, k := range order {
		e := byKey[k]
		if e.Factor == 0 {
			continue
		}
		out = append(out, e)
	}
	return out
}

func entrySignature(t *Term, conds []*Term) string {
	cs := make([]string, len(conds))
	for i, c := range conds {
		cs[i] = c.String()
	}
	sort.Strings(cs)
	sig := t.String()
	for _, c := range cs {
		sig += "&" + c
	}
	return sig
}

// cancelComplementaryConditions implements the condition-cancellation rule:
// two entries with equal factor and term whose conditions differ in exactly
// one element c vs Not(c) merge, dropping c. Iterated by the caller to a
// fixpoint.
func cancelComplementaryConditions(s *Store, entries []Entry) ([]Entry, bool) {
	used := make([]bool, len(entries))
	var out []Entry
	changed := false
	for i := range entries {
		if used[i] {
			continue
		}
		merged := false
		for j := i + 1; j < len(entries); j++ {
			if used[j] {
				continue
			}
			if entries[i].Factor != entries[j].Factor || entries[i].Term.String() != entries[j].Term.String() {
				continue
			}
			if diffVar, ok := singleComplementaryDiff(entries[i].Conditions, entries[j].Conditions); ok {
				remaining := removeCondition(entries[i].Conditions, diffVar)
				out = append(out, Entry{Factor: entries[i].Factor, Conditions: remaining, Term: entries[i].Term})
				used[i] = true
				used[j] = true
				merged = true
				changed = true
				break
			}
		}
		if !merged && !used[i] {
			out = append(out, entries[i])
		}
	}
	return out, changed
}

// singleComplementaryDiff reports whether a and b's condition sets are equal
// except that a contains c where b contains Not(c) (or vice-versa), and
// returns that c's string key if so.
func singleComplementaryDiff(a, b []*Term) (string, bool) {
	if len(a) != len(b) {
		return "", false
	}
	aSet := map[string]*Term{}
	for _, c := range a {
		aSet[c.String()] = c
	}
	bSet := map[string]*Term{}
	for _, c := range b {
		bSet[c.String()] = c
	}
	var diffs []string
	for k := range aSet {
		if _, ok := bSet[k]; !ok {
			diffs = append(diffs, k)
		}
	}
	if len(diffs) != 1 {
		return "", false
	}
	key := diffs[0]
	c := aSet[key]
	var complement *Term
	if c.kind == KindNot {
		complement = c.unary
	}
	for k, other := range bSet {
		if _, stillInA := aSet[k]; stillInA {
			continue
		}
		if other.kind == KindNot && other.unary.String() == c.String() {
			return c.String(), true
		}
		if complement != nil && other.String() == complement.String() {
			return complement.String(), true
		}
	}
	return "", false
}

func removeCondition(conds []*Term, key string) []*Term {
	var out []*Term
	for _, c := range conds {
		if c.String() == key {
			continue
		}
		out = append(out, c)
	}
	return out
}

// canonicalOrder gives the final entry slice a deterministic order so
// equal addition lists always intern to the same node.
func canonicalOrder(entries []Entry) []Entry {
	out := append([]Entry{}, entries...)
	for i := range out {
		out[i].Conditions = sortTerms(out[i].Conditions)
	}
	sort.Slice(out, func(i, j int) bool {
		return entrySignature(out[i].Term, out[i].Conditions) < entrySignature(out[j].Term, out[j].Conditions)
	})
	return out
}
