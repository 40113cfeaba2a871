// Package oracle implements the optional algebraic-equivalence oracle of
// spec.md §4.B/§6: a long-running subprocess that reads small symbolic
// assignment/comparison scripts and answers whether two expressions are
// equal, using a real computer algebra system (e.g. a local SymPy
// interpreter). This module's correctness never depends on the oracle being
// present: wp.Engine stores one but keys its cache on term pointers without
// consulting it, and internal/term.EquivalentUnder has no caller here.
package oracle

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"probwp/internal/term"
)

// Client drives a subprocess speaking the §6 line protocol:
//
//	<varnames> = symbols('<names>')
//	lhsEq = <expr>
//	rhsEq = <expr>
//	print(1 if simplify(Eq(lhsEq, rhsEq)) == True else 0)
//
// and reads back "0" or "1" per query.
type Client struct {
	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
}

// Start launches command (e.g. "python3 -i oracle.py") and returns a Client
// ready to answer Equivalent queries. The caller owns the returned Client's
// lifecycle and must call Close when done.
func Start(command string, args ...string) (*Client, error) {
	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("oracle: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("oracle: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("oracle: start: %w", err)
	}
	return &Client{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout)}, nil
}

// Close terminates the subprocess.
func (c *Client) Close() error {
	c.stdin.Close()
	return c.cmd.Wait()
}

// Equivalent implements term.EquivalenceOracle by serializing a and b to
// fresh opaque symbols (the same sub-expression gets the same symbol within
// one comparison, per §6) and asking the subprocess to simplify(Eq(...)).
// Any subprocess I/O failure is treated as "not proven equivalent" — the
// oracle is an optimization, never a correctness dependency.
func (c *Client) Equivalent(a, b *term.Term) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ser := newSerializer()
	lhs := ser.serialize(a)
	rhs := ser.serialize(b)

	names := ser.orderedNames()
	if len(names) > 0 {
		if _, err := fmt.Fprintf(c.stdin, "%s = symbols('%s')\n", strings.Join(names, ", "), strings.Join(names, " ")); err != nil {
			return false
		}
	}
	if _, err := fmt.Fprintf(c.stdin, "lhsEq = %s\n", lhs); err != nil {
		return false
	}
	if _, err := fmt.Fprintf(c.stdin, "rhsEq = %s\n", rhs); err != nil {
		return false
	}
	if _, err := fmt.Fprintln(c.stdin, "print(1 if simplify(Eq(lhsEq, rhsEq)) == True else 0)"); err != nil {
		return false
	}

	line, err := c.stdout.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "1"
}

// serializer lowers a term to a computer-algebra expression string, giving
// every Var and every BoolToInt(...) subexpression a fresh opaque symbol,
// reusing the same symbol for structurally identical subterms within one
// comparison (§6).
type serializer struct {
	symbolOf map[string]string
	order    []string
	next     int
}

func newSerializer() *serializer {
	return &serializer{symbolOf: map[string]string{}}
}

func (s *serializer) orderedNames() []string {
	return s.order
}

func (s *serializer) symbolFor(key string) string {
	if name, ok := s.symbolOf[key]; ok {
		return name
	}
	name := fmt.Sprintf("s%d", s.next)
	s.next++
	s.symbolOf[key] = name
	s.order = append(s.order, name)
	return name
}

func (s *serializer) serialize(t *term.Term) string {
	switch t.Kind() {
	case term.KindVar:
		return s.symbolFor("var:" + string(t.Var()))
	case term.KindInt:
		return fmt.Sprintf("%d", t.Int())
	case term.KindDouble:
		return fmt.Sprintf("%g", t.Double())
	case term.KindBool:
		if t.Bool() {
			return "1"
		}
		return "0"
	case term.KindBoolToInt:
		return s.symbolFor("b2i:" + t.Operand().String())
	case term.KindNot:
		return fmt.Sprintf("(1 - %s)", s.serialize(t.Operand()))
	case term.KindEqual:
		return fmt.Sprintf("Piecewise((1, Eq(%s, %s)), (0, True))", s.serialize(t.Lhs()), s.serialize(t.Rhs()))
	case term.KindLessThan:
		return fmt.Sprintf("Piecewise((1, %s < %s), (0, True))", s.serialize(t.Lhs()), s.serialize(t.Rhs()))
	case term.KindSub:
		return fmt.Sprintf("(%s - %s)", s.serialize(t.Lhs()), s.serialize(t.Rhs()))
	case term.KindMul:
		parts := make([]string, len(t.Factors()))
		for i, f := range t.Factors() {
			parts[i] = s.serialize(f)
		}
		return "(" + strings.Join(parts, "*") + ")"
	case term.KindDiv, term.KindZeroDiv:
		parts := make([]string, len(t.Divisors()))
		for i, d := range t.Divisors() {
			parts[i] = s.serialize(d)
		}
		return fmt.Sprintf("(%s / (%s))", s.serialize(t.Lhs()), strings.Join(parts, "*"))
	case term.KindAddList:
		var parts []string
		for _, e := range t.Entries() {
			factor := fmt.Sprintf("%g", e.Factor)
			expr := factor + "*" + s.serialize(e.Term)
			for _, c := range e.Conditions {
				expr += "*" + s.serialize(c)
			}
			parts = append(parts, expr)
		}
		if len(parts) == 0 {
			return "0"
		}
		return "(" + strings.Join(parts, " + ") + ")"
	default:
		return "0"
	}
}
