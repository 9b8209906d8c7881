package fields

import (
	"context"
	"errors"
	"fmt"

	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/stores"
)

// Series names.
const (
	StateSeries  = "state"
	BeliefSeries = "belief"
)

// Backend persists series metadata and encoded chunks.
// *stores.SQLiteStore satisfies it.
type Backend interface {
	EnsureSeries(ctx context.Context, info *stores.SeriesInfo) (*stores.SeriesInfo, error)
	GetSeries(ctx context.Context, runID, name string) (*stores.SeriesInfo, error)
	AppendSlices(ctx context.Context, runID string, writes []stores.SliceWrite) error
	ReadChunks(ctx context.Context, runID, series string, t int) ([]stores.Chunk, error)
}

// SliceObserver is notified after a slice has been committed.
type SliceObserver interface {
	ObserveSlice(series string, compressedBytes int)
}

// Series is one append-only (T, H, W) array of a run.
type Series[T Element] struct {
	backend  Backend
	codec    *Codec
	layout   layout[T]
	observer SliceObserver

	runID    string
	name     string
	height   int
	width    int
	tileSize int
}

// Name returns the series name.
func (s *Series[T]) Name() string { return s.name }

// Shape returns the fixed spatial dimensions.
func (s *Series[T]) Shape() (height, width int) { return s.height, s.width }

// TileSize returns the edge of the stored spatial chunks.
func (s *Series[T]) TileSize() int { return s.tileSize }

// Length returns the number of committed slices.
func (s *Series[T]) Length(ctx context.Context) (int, error) {
	info, err := s.backend.GetSeries(ctx, s.runID, s.name)
	if err != nil {
		return 0, classify(err, s.runID, "length")
	}
	return info.Length, nil
}

// LatestIndex returns Length-1, or -1 for an empty series.
func (s *Series[T]) LatestIndex(ctx context.Context) (int, error) {
	n, err := s.Length(ctx)
	if err != nil {
		return 0, err
	}
	return n - 1, nil
}

// Append coerces g to the series dtype and commits it as the next slice.
// It returns the index the slice was written at.
func (s *Series[T]) Append(ctx context.Context, g Grid[T]) (int, error) {
	t, err := s.Length(ctx)
	if err != nil {
		return 0, err
	}
	write, err := s.prepare(g, t)
	if err != nil {
		return 0, err
	}
	if err := s.backend.AppendSlices(ctx, s.runID, []stores.SliceWrite{write}); err != nil {
		return 0, classify(err, s.runID, "append")
	}
	s.observe(write)
	return t, nil
}

// Read returns slice t. Only the chunks of that slice are loaded.
func (s *Series[T]) Read(ctx context.Context, t int) (Grid[T], error) {
	n, err := s.Length(ctx)
	if err != nil {
		return Grid[T]{}, err
	}
	if t < 0 || t >= n {
		return Grid[T]{}, engine.NewIndexOutOfRangeError(s.name, t, n).WithOperation("read")
	}

	chunks, err := s.backend.ReadChunks(ctx, s.runID, s.name, t)
	if err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return Grid[T]{}, engine.NewIntegrityFaultError(
				fmt.Sprintf("%s[%d] is committed but has no chunks", s.name, t), err).WithResource(s.runID)
		}
		return Grid[T]{}, classify(err, s.runID, "read")
	}

	rows, cols := tileCounts(s.height, s.width, s.tileSize)
	if len(chunks) != rows*cols {
		return Grid[T]{}, engine.NewIntegrityFaultError(
			fmt.Sprintf("%s[%d] has %d chunks, want %d", s.name, t, len(chunks), rows*cols), nil).
			WithResource(s.runID)
	}

	g := NewGrid[T](s.height, s.width)
	for _, c := range chunks {
		if c.TileRow >= rows || c.TileCol >= cols {
			return Grid[T]{}, engine.NewIntegrityFaultError(
				fmt.Sprintf("%s[%d] has chunk (%d,%d) outside the %dx%d tile grid", s.name, t, c.TileRow, c.TileCol, rows, cols), nil).
				WithResource(s.runID)
		}
		raw, err := s.codec.Decode(c.Data)
		if err != nil {
			return Grid[T]{}, engine.NewIntegrityFaultError(fmt.Sprintf("%s[%d] chunk (%d,%d) is corrupt", s.name, t, c.TileRow, c.TileCol), err).
				WithResource(s.runID)
		}
		r0, r1, c0, c1 := tileBounds(s.height, s.width, s.tileSize, c.TileRow, c.TileCol)
		if err := s.layout.unpackTile(g, raw, r0, r1, c0, c1); err != nil {
			return Grid[T]{}, engine.NewIntegrityFaultError(fmt.Sprintf("%s[%d] chunk (%d,%d) is corrupt", s.name, t, c.TileRow, c.TileCol), err).
				WithResource(s.runID)
		}
	}
	return g, nil
}

// ReadEncoded returns slice t as a single zstd frame of row-major little-endian cells.
func (s *Series[T]) ReadEncoded(ctx context.Context, t int) ([]byte, error) {
	g, err := s.Read(ctx, t)
	if err != nil {
		return nil, err
	}
	return s.codec.Encode(s.layout.packTile(g, 0, s.height, 0, s.width)), nil
}

// DType returns the stored element type code.
func (s *Series[T]) DType() string { return s.layout.dtype }

// prepare validates, coerces and encodes g as slice t.
func (s *Series[T]) prepare(g Grid[T], t int) (stores.SliceWrite, error) {
	if err := g.checkShape(s.height, s.width); err != nil {
		return stores.SliceWrite{}, err.WithResource(s.runID).WithOperation("append " + s.name)
	}

	coerced := NewGrid[T](s.height, s.width)
	for i, v := range g.Data {
		coerced.Data[i] = s.layout.coerce(v)
	}

	rows, cols := tileCounts(s.height, s.width, s.tileSize)
	chunks := make([]stores.Chunk, 0, rows*cols)
	for tr := 0; tr < rows; tr++ {
		for tc := 0; tc < cols; tc++ {
			r0, r1, c0, c1 := tileBounds(s.height, s.width, s.tileSize, tr, tc)
			chunks = append(chunks, stores.Chunk{
				TileRow: tr,
				TileCol: tc,
				Data:    s.codec.Encode(s.layout.packTile(coerced, r0, r1, c0, c1)),
			})
		}
	}

	return stores.SliceWrite{Series: s.name, T: t, Chunks: chunks}, nil
}

func (s *Series[T]) observe(w stores.SliceWrite) {
	if s.observer == nil {
		return
	}
	n := 0
	for _, c := range w.Chunks {
		n += len(c.Data)
	}
	s.observer.ObserveSlice(s.name, n)
}

// classify maps backend errors onto the engine taxonomy.
func classify(err error, runID, op string) error {
	var ee *engine.EngineError
	switch {
	case errors.As(err, &ee):
		return err
	case errors.Is(err, stores.ErrNotFound):
		return engine.NewNotFoundError("field series not found", err).WithResource(runID).WithOperation(op)
	case errors.Is(err, stores.ErrConflict):
		return engine.NewIntegrityFaultError("concurrent append detected", err).
			WithResource(runID).WithOperation(op).WithCode(engine.ErrCodeConflict)
	default:
		return engine.NewInternalError("field store failure", err).WithResource(runID).WithOperation(op)
	}
}
