// Package detrand provides a seeded linear-congruential generator so the
// heuristic collaborators and test fixtures stay reproducible.
package detrand

// Numerical Recipes constants, 32-bit state.
const (
	multiplier uint32 = 1664525
	increment  uint32 = 1013904223
)

type LCG struct {
	state uint32
}

func New(seed uint32) *LCG {
	return &LCG{state: seed}
}

func (g *LCG) Next() uint32 {
	g.state = g.state*multiplier + increment
	return g.state
}

// Float64 returns a value in [0,1).
func (g *LCG) Float64() float64 {
	return float64(g.Next()) / (1 << 32)
}

// Intn returns a value in [0,n).
func (g *LCG) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(g.Next() % uint32(n))
}
