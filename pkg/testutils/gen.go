package testutils

import "github.com/argus-labs/tickcore/pkg/assert"

// Gen enumerates every combination of the choices a test body makes. Each pass through the loop
// body draws values with Intn/Bool/Pick; Done advances to the next combination by bumping the
// rightmost choice that has not reached its bound and resetting everything after it.
//
//	for g := testutils.NewGen(); !g.Done(); {
//		a, b := g.Bool(), g.Intn(3)
//		...
//	}
//
// See: <https://matklad.github.io/2021/11/07/generate-all-the-things.html>
type Gen struct {
	started bool
	choices []choice
	pos     int
}

type choice struct {
	value, bound int
}

func NewGen() *Gen {
	return &Gen{choices: make([]choice, 0, 16)}
}

// Done reports whether every combination has been produced.
func (g *Gen) Done() bool {
	if !g.started {
		g.started = true
		return false
	}
	for i := len(g.choices) - 1; i >= 0; i-- {
		if g.choices[i].value < g.choices[i].bound {
			g.choices[i].value++
			g.choices = g.choices[:i+1]
			g.pos = 0
			return false
		}
	}
	return true
}

// Intn returns a value in [0, bound].
func (g *Gen) Intn(bound int) int {
	assert.That(bound >= 0, "gen: negative bound %d", bound)
	if g.pos == len(g.choices) {
		g.choices = append(g.choices, choice{})
	}
	c := &g.choices[g.pos]
	c.bound = bound
	g.pos++
	return c.value
}

func (g *Gen) Bool() bool {
	return g.Intn(1) == 1
}

// Pick returns one element of slice.
func Pick[T any](g *Gen, slice []T) T {
	assert.That(len(slice) > 0, "gen: empty slice")
	return slice[g.Intn(len(slice)-1)]
}
