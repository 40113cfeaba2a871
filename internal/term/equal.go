package term

// EquivalenceOracle is the optional external algebraic-equivalence check
// (§4.B, §6): a long-running subprocess (e.g. a computer-algebra system)
// that can prove two syntactically distinct terms are mathematically equal.
// Correctness of this package never depends on the oracle being present or
// correct — it is consulted only to enlarge cache hits (§4.B).
type EquivalenceOracle interface {
	// Equivalent reports whether a and b denote the same value for every
	// assignment of their free variables. A false negative (returning false
	// for terms that are in fact equal) only costs a cache miss.
	Equivalent(a, b *Term) bool
}

// Equal reports whether a and b are the same term. Because terms are
// hash-consed, two terms that simplified to the same normal form are
// already pointer-identical, so this is pointer equality — "syntactic after
// simplification" per §4.B.
func Equal(a, b *Term) bool {
	return a == b
}

// EquivalentUnder reports whether a and b are equal outright, or — when
// oracle is non-nil — proven equivalent by the oracle. Nothing in this module
// calls it: wp.Engine's cache compares terms by pointer only.
func EquivalentUnder(oracle EquivalenceOracle, a, b *Term) bool {
	if Equal(a, b) {
		return true
	}
	if oracle == nil {
		return false
	}
	return oracle.Equivalent(a, b)
}
