package fields

import (
	"fmt"

	"github.com/awsrt/awsrt/pkg/engine"
)

// Element is the cell type of a stored series.
type Element interface {
	~uint8 | ~float32
}

// Grid is one H x W time slice in row-major order.
type Grid[T Element] struct {
	Height int
	Width  int
	Data   []T
}

// NewGrid allocates a zeroed grid.
func NewGrid[T Element](height, width int) Grid[T] {
	return Grid[T]{Height: height, Width: width, Data: make([]T, height*width)}
}

// FilledGrid allocates a grid with every cell set to v.
func FilledGrid[T Element](height, width int, v T) Grid[T] {
	g := NewGrid[T](height, width)
	for i := range g.Data {
		g.Data[i] = v
	}
	return g
}

// GridFrom wraps data as a grid after checking its length.
func GridFrom[T Element](height, width int, data []T) (Grid[T], error) {
	if height <= 0 || width <= 0 {
		return Grid[T]{}, engine.NewInvalidInputError(fmt.Sprintf("grid dimensions must be positive, got %dx%d", height, width), nil)
	}
	if len(data) != height*width {
		return Grid[T]{}, engine.NewShapeMismatchError(
			fmt.Sprintf("grid data has %d cells, want %dx%d=%d", len(data), height, width, height*width), nil)
	}
	return Grid[T]{Height: height, Width: width, Data: data}, nil
}

// At returns the value at (row, col).
func (g Grid[T]) At(row, col int) T {
	return g.Data[row*g.Width+col]
}

// Set stores v at (row, col).
func (g Grid[T]) Set(row, col int, v T) {
	g.Data[row*g.Width+col] = v
}

// Clone returns a deep copy.
func (g Grid[T]) Clone() Grid[T] {
	data := make([]T, len(g.Data))
	copy(data, g.Data)
	return Grid[T]{Height: g.Height, Width: g.Width, Data: data}
}

// Equal reports whether both grids have the same shape and cells.
func (g Grid[T]) Equal(o Grid[T]) bool {
	if g.Height != o.Height || g.Width != o.Width || len(g.Data) != len(o.Data) {
		return false
	}
	for i := range g.Data {
		if g.Data[i] != o.Data[i] {
			return false
		}
	}
	return true
}

// Count returns the number of cells equal to v.
func (g Grid[T]) Count(v T) int {
	n := 0
	for _, x := range g.Data {
		if x == v {
			n++
		}
	}
	return n
}

func (g Grid[T]) checkShape(height, width int) *engine.EngineError {
	if g.Height != height || g.Width != width || len(g.Data) != height*width {
		return engine.NewShapeMismatchError(
			fmt.Sprintf("slice shape %dx%d (%d cells) does not match series shape %dx%d",
				g.Height, g.Width, len(g.Data), height, width), nil).
			WithDetail("H", height).
			WithDetail("W", width)
	}
	return nil
}
