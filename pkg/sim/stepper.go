package sim

import (
	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/fields"
)

// Source supplies uniform draws in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Step advances a binary fire state by one tick.
//
// Burning cells stay burning. An unburnt cell ignites when at least one of
// its four edge neighbours is burning and its draw is below q. Exactly one
// draw is taken per cell, in row-major order, whether or not it is used,
// so the draw sequence depends only on the grid shape.
func Step(state fields.Grid[uint8], q float64, src Source) (fields.Grid[uint8], error) {
	if err := engine.ValidateProbability(q); err != nil {
		return fields.Grid[uint8]{}, err
	}
	h, w := state.Height, state.Width
	if h <= 0 || w <= 0 || len(state.Data) != h*w {
		return fields.Grid[uint8]{}, engine.NewShapeMismatchError("state grid data does not match its dimensions", nil).
			WithDetail("H", h).
			WithDetail("W", w).
			WithDetail("cells", len(state.Data))
	}

	cur := state.Data
	next := fields.NewGrid[uint8](h, w)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			u := src.Float64()
			i := r*w + c
			if cur[i] != 0 {
				next.Data[i] = 1
				continue
			}
			if u < q && burningNeighbour(cur, h, w, r, c) {
				next.Data[i] = 1
			}
		}
	}
	return next, nil
}

func burningNeighbour(cells []uint8, h, w, r, c int) bool {
	return (r > 0 && cells[(r-1)*w+c] != 0) ||
		(r+1 < h && cells[(r+1)*w+c] != 0) ||
		(c > 0 && cells[r*w+c-1] != 0) ||
		(c+1 < w && cells[r*w+c+1] != 0)
}
