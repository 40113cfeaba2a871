// Package term implements the immutable symbolic term algebra the WP
// inference engine propagates backwards through a program (§3, §4.B):
// Var | Int | Double | Bool | BoolToInt | Not | Equal | LessThan | Sub |
// Mul | Div | ZeroDiv | AdditionList.
//
// Terms are hash-consed through a Store: equal subtrees intern to the same
// *Term, so structural equality after simplification is pointer equality
// (§4.B Equivalence) and AdditionList merges are cheap (§9).
package term

import (
	"fmt"
	"sort"
	"strings"

	"probwp/internal/ir"
)

// Kind discriminates the closed set of term node shapes.
type Kind int

const (
	KindVar Kind = iota
	KindInt
	KindDouble
	KindBool
	KindBoolToInt
	KindNot
	KindEqual
	KindLessThan
	KindSub
	KindMul
	KindDiv
	KindZeroDiv
	KindAddList
)

// Entry is one summand of an AdditionList: factor * term, gated by the
// conjunction of conditions (§3, §4.B rule 7).
type Entry struct {
	Factor     float64
	Conditions []*Term // no duplicates; sorted by canonicalOrder when an AdditionList is built
	Term       *Term
}

// Term is an immutable, hash-consed symbolic term tree node. Fields outside
// the node's own Kind are zero. Construct terms only through a *Store —
// never with a struct literal — so every node is normalized and interned.
type Term struct {
	kind Kind

	varName   ir.Var
	intVal    int
	doubleVal float64
	boolVal   bool

	unary *Term   // BoolToInt, Not
	lhs   *Term   // Equal, LessThan, Sub
	rhs   *Term   // Equal, LessThan, Sub
	args  []*Term // Mul operands; Div/ZeroDiv divisor list (lhs holds the numerator)

	entries []Entry // AddList
}

func (t *Term) Kind() Kind { return t.kind }

// Var returns the variable name of a KindVar term.
func (t *Term) Var() ir.Var { return t.varName }

// Int returns the integer value of a KindInt term.
func (t *Term) Int() int { return t.intVal }

// Double returns the float value of a KindDouble term.
func (t *Term) Double() float64 { return t.doubleVal }

// Bool returns the boolean value of a KindBool term.
func (t *Term) Bool() bool { return t.boolVal }

// Operand returns the operand of a KindBoolToInt or KindNot term.
func (t *Term) Operand() *Term { return t.unary }

// Lhs returns the left operand of KindEqual, KindLessThan, KindSub, or the
// numerator of KindDiv/KindZeroDiv.
func (t *Term) Lhs() *Term { return t.lhs }

// Rhs returns the right operand of KindEqual, KindLessThan, or KindSub.
func (t *Term) Rhs() *Term { return t.rhs }

// Factors returns the operands of a KindMul term.
func (t *Term) Factors() []*Term { return t.args }

// Divisors returns the divisor list of a KindDiv/KindZeroDiv term.
func (t *Term) Divisors() []*Term { return t.args }

// Entries returns the summands of a KindAddList term.
func (t *Term) Entries() []Entry { return t.entries }

// IsNumericLiteral reports whether t is a constant Int or Double.
func (t *Term) IsNumericLiteral() bool {
	return t.kind == KindInt || t.kind == KindDouble
}

// IsZeroLiteral reports whether t is the constant 0 (int or double).
func (t *Term) IsZeroLiteral() bool {
	return (t.kind == KindInt && t.intVal == 0) || (t.kind == KindDouble && t.doubleVal == 0)
}

// NumericValue returns t's value as a float64, panicking if t is not a
// numeric literal — callers must check IsNumericLiteral first.
func (t *Term) NumericValue() float64 {
	switch t.kind {
	case KindInt:
		return float64(t.intVal)
	case KindDouble:
		return t.doubleVal
	default:
		panic("term: NumericValue on non-numeric-literal term")
	}
}

func (t *Term) String() string {
	switch t.kind {
	case KindVar:
		return string(t.varName)
	case KindInt:
		return fmt.Sprintf("%d", t.intVal)
	case KindDouble:
		return fmt.Sprintf("%g", t.doubleVal)
	case KindBool:
		return fmt.Sprintf("%t", t.boolVal)
	case KindBoolToInt:
		return fmt.Sprintf("BoolToInt(%s)", t.unary)
	case KindNot:
		return fmt.Sprintf("!%s", t.unary)
	case KindEqual:
		return fmt.Sprintf("(%s == %s)", t.lhs, t.rhs)
	case KindLessThan:
		return fmt.Sprintf("(%s < %s)", t.lhs, t.rhs)
	case KindSub:
		return fmt.Sprintf("(%s - %s)", t.lhs, t.rhs)
	case KindMul:
		parts := make([]string, len(t.args))
		for i, a := range t.args {
			parts[i] = a.String()
		}
		return "(" + strings.Join(parts, " * ") + ")"
	case KindDiv, KindZeroDiv:
		parts := make([]string, len(t.args))
		for i, a := range t.args {
			parts[i] = a.String()
		}
		op := "/"
		if t.kind == KindZeroDiv {
			op = "./."
		}
		return fmt.Sprintf("(%s %s %s)", t.lhs, op, strings.Join(parts, "*"))
	case KindAddList:
		parts := make([]string, len(t.entries))
		for i, e := range t.entries {
			condStr := ""
			if len(e.Conditions) > 0 {
				cs := make([]string, len(e.Conditions))
				for j, c := range e.Conditions {
					cs[j] = c.String()
				}
				condStr = "[" + strings.Join(cs, " & ") + "] "
			}
			parts[i] = fmt.Sprintf("%g*%s%s", e.Factor, condStr, e.Term)
		}
		return "(" + strings.Join(parts, " + ") + ")"
	default:
		return "<?term?>"
	}
}

// sortTerms returns a new slice sorted by signature, giving commutative
// n-ary nodes (Mul factors, Div/ZeroDiv divisors, AddList conditions) a
// canonical order so structurally-equivalent terms hash-cons to the same
// node regardless of construction order.
func sortTerms(ts []*Term) []*Term {
	out := append([]*Term{}, ts...)
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
