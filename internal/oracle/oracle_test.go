package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"probwp/internal/term"
)

func TestSerializeGivesVarsStableSymbols(t *testing.T) {
	store := term.NewStore()
	x := store.Var("x")
	sum := store.Sum(x, x)

	s := newSerializer()
	got := s.serialize(sum)

	assert.Contains(t, got, "s0")
	assert.NotContains(t, got, "s1", "the same variable should reuse its symbol within one comparison")
}

func TestSerializeDistinctVarsGetDistinctSymbols(t *testing.T) {
	store := term.NewStore()
	x := store.Var("x")
	y := store.Var("y")
	diff := store.Sub(x, y)

	s := newSerializer()
	got := s.serialize(diff)

	assert.Contains(t, got, "s0")
	assert.Contains(t, got, "s1")
	assert.ElementsMatch(t, []string{"s0", "s1"}, s.orderedNames())
}

func TestSerializeLiterals(t *testing.T) {
	store := term.NewStore()
	s := newSerializer()
	assert.Equal(t, "1", s.serialize(store.Bool(true)))
	assert.Equal(t, "0", s.serialize(store.Bool(false)))
	assert.Equal(t, "5", s.serialize(store.Int(5)))
}
