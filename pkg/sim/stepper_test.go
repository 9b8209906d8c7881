package sim

import (
	"testing"

	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/fields"
)

// constSource returns the same draw every time and counts calls.
type constSource struct {
	u     float64
	calls int
}

func (s *constSource) Float64() float64 {
	s.calls++
	return s.u
}

// seqSource replays a fixed draw sequence.
type seqSource struct {
	draws []float64
	i     int
}

func (s *seqSource) Float64() float64 {
	u := s.draws[s.i]
	s.i++
	return u
}

func gridOf(h, w int, burning ...engine.Cell) fields.Grid[uint8] {
	g := fields.NewGrid[uint8](h, w)
	for _, c := range burning {
		g.Set(c.Row, c.Col, 1)
	}
	return g
}

func TestStepZeroProbabilityIsIdentity(t *testing.T) {
	state := gridOf(5, 5, engine.Cell{Row: 2, Col: 2}, engine.Cell{Row: 0, Col: 4})

	next, err := Step(state, 0, &constSource{u: 0})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if !next.Equal(state) {
		t.Errorf("q=0 changed the state:\n got %v\nwant %v", next.Data, state.Data)
	}
}

func TestStepCertainSpreadReachesFourNeighbours(t *testing.T) {
	state := gridOf(5, 5, engine.Cell{Row: 2, Col: 2})

	next, err := Step(state, 1, &constSource{u: 0.999})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	want := gridOf(5, 5,
		engine.Cell{Row: 2, Col: 2},
		engine.Cell{Row: 1, Col: 2},
		engine.Cell{Row: 3, Col: 2},
		engine.Cell{Row: 2, Col: 1},
		engine.Cell{Row: 2, Col: 3},
	)
	if !next.Equal(want) {
		t.Errorf("unexpected spread:\n got %v\nwant %v", next.Data, want.Data)
	}
}

func TestStepNoDiagonalSpread(t *testing.T) {
	state := gridOf(3, 3, engine.Cell{Row: 1, Col: 1})
	next, err := Step(state, 1, &constSource{u: 0})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	for _, c := range []engine.Cell{{Row: 0, Col: 0}, {Row: 0, Col: 2}, {Row: 2, Col: 0}, {Row: 2, Col: 2}} {
		if next.At(c.Row, c.Col) != 0 {
			t.Errorf("diagonal cell (%d,%d) ignited", c.Row, c.Col)
		}
	}
}

func TestStepCornerBoundary(t *testing.T) {
	state := gridOf(3, 4, engine.Cell{Row: 0, Col: 0})
	next, err := Step(state, 1, &constSource{u: 0.5})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	want := gridOf(3, 4, engine.Cell{Row: 0, Col: 0}, engine.Cell{Row: 0, Col: 1}, engine.Cell{Row: 1, Col: 0})
	if !next.Equal(want) {
		t.Errorf("corner spread:\n got %v\nwant %v", next.Data, want.Data)
	}
}

func TestStepIsAbsorbing(t *testing.T) {
	state := gridOf(4, 4, engine.Cell{Row: 1, Col: 1}, engine.Cell{Row: 3, Col: 3})

	// Draws of 0.99 never ignite at q=0.5, but burning cells must stay burning.
	next, err := Step(state, 0.5, &constSource{u: 0.99})
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	for i, v := range state.Data {
		if v == 1 && next.Data[i] != 1 {
			t.Errorf("burning cell %d went out", i)
		}
	}
}

func TestStepConsumesOneDrawPerCell(t *testing.T) {
	for _, shape := range [][2]int{{1, 1}, {3, 7}, {16, 16}} {
		src := &constSource{u: 0.5}
		if _, err := Step(fields.NewGrid[uint8](shape[0], shape[1]), 0.3, src); err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if src.calls != shape[0]*shape[1] {
			t.Errorf("%dx%d grid took %d draws, want %d", shape[0], shape[1], src.calls, shape[0]*shape[1])
		}
	}
}

func TestStepRowMajorDrawOrder(t *testing.T) {
	// 1x3 grid, middle cell burning. Draw i belongs to cell i.
	state := gridOf(1, 3, engine.Cell{Row: 0, Col: 1})
	src := &seqSource{draws: []float64{0.1, 0.0, 0.9}}

	next, err := Step(state, 0.5, src)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	want := []uint8{1, 1, 0}
	for i, v := range want {
		if next.Data[i] != v {
			t.Errorf("cell %d = %d, want %d", i, next.Data[i], v)
		}
	}
}

func TestStepMonotone(t *testing.T) {
	state := gridOf(20, 20, engine.Cell{Row: 10, Col: 10})
	src := NewSource(DeriveSeed("run-mono", 0))
	for i := 0; i < 15; i++ {
		next, err := Step(state, 0.4, src)
		if err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if next.Count(1) < state.Count(1) {
			t.Fatalf("burning count decreased at step %d", i)
		}
		state = next
	}
}

func TestStepRejectsInvalidProbability(t *testing.T) {
	for _, q := range []float64{-0.1, 1.1} {
		if _, err := Step(fields.NewGrid[uint8](2, 2), q, &constSource{}); !engine.IsInvalidInput(err) {
			t.Errorf("Step(q=%v) = %v, want invalid input", q, err)
		}
	}
}

func TestStepRejectsMalformedGrid(t *testing.T) {
	bad := fields.Grid[uint8]{Height: 2, Width: 2, Data: []uint8{0, 1, 0}}
	if _, err := Step(bad, 0.3, &constSource{}); !engine.IsShapeMismatch(err) {
		t.Errorf("Step(malformed) = %v, want shape mismatch", err)
	}
}

func TestStepFixedPoints(t *testing.T) {
	tests := []struct {
		name  string
		state fields.Grid[uint8]
	}{
		{"all zero", gridOf(7, 9)},
		{"single burning cell", gridOf(1, 1, engine.Cell{Row: 0, Col: 0})},
		{"single unburnt cell", gridOf(1, 1)},
	}

	for _, tt := range tests {
		for _, q := range []float64{0, 0.5, 1} {
			for _, seed := range []uint64{0, 1, 42, DeriveSeed("run-fixed", 7)} {
				next, err := Step(tt.state, q, NewSource(seed))
				if err != nil {
					t.Fatalf("%s: Step(q=%v, seed=%d) failed: %v", tt.name, q, seed, err)
				}
				if !next.Equal(tt.state) {
					t.Errorf("%s: Step(q=%v, seed=%d) = %v, want unchanged %v",
						tt.name, q, seed, next.Data, tt.state.Data)
				}
			}
		}
	}
}

func TestStepDeterministicForSameSeed(t *testing.T) {
	state := gridOf(32, 32, engine.Cell{Row: 16, Col: 16}, engine.Cell{Row: 3, Col: 29})

	a, err := Step(state, 0.3, SourceFor("run-abc", 4))
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	b, err := Step(state, 0.3, SourceFor("run-abc", 4))
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if !a.Equal(b) {
		t.Error("same seed produced different states")
	}
}

func TestStepDoesNotMutateInput(t *testing.T) {
	state := gridOf(3, 3, engine.Cell{Row: 1, Col: 1})
	before := state.Clone()
	if _, err := Step(state, 1, &constSource{u: 0}); err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if !state.Equal(before) {
		t.Error("Step mutated its input")
	}
}
