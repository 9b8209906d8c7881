package fields

import (
	"context"
	"errors"
	"fmt"

	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/stores"
)

// Options configures how new series are laid out.
type Options struct {
	// TileSize is the spatial chunk edge; 0 means MaxTileSize.
	TileSize int

	// Codec compresses chunks. Required.
	Codec *Codec

	// Observer, if set, receives the compressed size of every committed slice.
	Observer SliceObserver
}

// Store is the state/belief pair of one run.
type Store struct {
	backend Backend
	runID   string
	state   *Series[uint8]
	belief  *Series[float32]
}

// CreateOrOpen opens the run's series, creating both empty when absent.
// Reopening with a different H or W fails with a shape mismatch.
func CreateOrOpen(ctx context.Context, backend Backend, runID string, height, width int, opts Options) (*Store, error) {
	if height <= 0 || width <= 0 {
		return nil, engine.NewInvalidInputError(fmt.Sprintf("grid dimensions must be positive, got %dx%d", height, width), nil).
			WithResource(runID)
	}
	tileSize := opts.TileSize
	if tileSize == 0 {
		tileSize = MaxTileSize
	}
	if tileSize < 1 || tileSize > MaxTileSize {
		return nil, engine.NewInvalidInputError(fmt.Sprintf("tile size must be in [1, %d], got %d", MaxTileSize, tileSize), nil)
	}
	if opts.Codec == nil {
		return nil, engine.NewInvalidInputError("codec is required", nil)
	}

	infos := make(map[string]*stores.SeriesInfo, 2)
	for _, spec := range []struct{ name, dtype string }{
		{StateSeries, stateLayout.dtype},
		{BeliefSeries, beliefLayout.dtype},
	} {
		info, err := backend.EnsureSeries(ctx, &stores.SeriesInfo{
			RunID:    runID,
			Name:     spec.name,
			DType:    spec.dtype,
			Height:   height,
			Width:    width,
			TileSize: tileSize,
			Codec:    CodecName,
		})
		if err != nil {
			return nil, classify(err, runID, "create")
		}
		if info.Height != height || info.Width != width {
			return nil, engine.NewShapeMismatchError(
				fmt.Sprintf("run already stores %dx%d %s slices, requested %dx%d",
					info.Height, info.Width, spec.name, height, width), nil).
				WithResource(runID).
				WithOperation("create")
		}
		infos[spec.name] = info
	}

	return newStore(backend, runID, infos[StateSeries], infos[BeliefSeries], opts)
}

// Open opens the series of an existing run.
func Open(ctx context.Context, backend Backend, runID string, opts Options) (*Store, error) {
	if opts.Codec == nil {
		return nil, engine.NewInvalidInputError("codec is required", nil)
	}

	state, err := backend.GetSeries(ctx, runID, StateSeries)
	if err != nil {
		return nil, classify(err, runID, "open")
	}
	belief, err := backend.GetSeries(ctx, runID, BeliefSeries)
	if err != nil {
		return nil, classify(err, runID, "open")
	}
	if state.Height != belief.Height || state.Width != belief.Width {
		return nil, engine.NewShapeMismatchError(
			fmt.Sprintf("state is %dx%d but belief is %dx%d", state.Height, state.Width, belief.Height, belief.Width), nil).
			WithResource(runID)
	}

	return newStore(backend, runID, state, belief, opts)
}

func newStore(backend Backend, runID string, state, belief *stores.SeriesInfo, opts Options) (*Store, error) {
	for _, info := range []*stores.SeriesInfo{state, belief} {
		if info.Codec != CodecName {
			return nil, engine.NewIntegrityFaultError(fmt.Sprintf("series %s uses unsupported codec %q", info.Name, info.Codec), nil).
				WithResource(runID)
		}
	}

	return &Store{
		backend: backend,
		runID:   runID,
		state: &Series[uint8]{
			backend:  backend,
			codec:    opts.Codec,
			layout:   stateLayout,
			observer: opts.Observer,
			runID:    runID,
			name:     StateSeries,
			height:   state.Height,
			width:    state.Width,
			tileSize: state.TileSize,
		},
		belief: &Series[float32]{
			backend:  backend,
			codec:    opts.Codec,
			layout:   beliefLayout,
			observer: opts.Observer,
			runID:    runID,
			name:     BeliefSeries,
			height:   belief.Height,
			width:    belief.Width,
			tileSize: belief.TileSize,
		},
	}, nil
}

// RunID returns the run the store belongs to.
func (s *Store) RunID() string { return s.runID }

// State returns the binary fire-state series.
func (s *Store) State() *Series[uint8] { return s.state }

// Belief returns the probability series.
func (s *Store) Belief() *Series[float32] { return s.belief }

// Shape returns the fixed spatial dimensions.
func (s *Store) Shape() (height, width int) { return s.state.Shape() }

// Lengths returns the committed slice counts of both series.
func (s *Store) Lengths(ctx context.Context) (state, belief int, err error) {
	if state, err = s.state.Length(ctx); err != nil {
		return 0, 0, err
	}
	if belief, err = s.belief.Length(ctx); err != nil {
		return 0, 0, err
	}
	return state, belief, nil
}

// CheckAligned fails with a shape mismatch when the series lengths differ.
// It returns the shared length otherwise.
func (s *Store) CheckAligned(ctx context.Context) (int, error) {
	ts, tb, err := s.Lengths(ctx)
	if err != nil {
		return 0, err
	}
	if ts != tb {
		return 0, engine.NewShapeMismatchError(
			fmt.Sprintf("state has %d slices but belief has %d", ts, tb), nil).
			WithResource(s.runID).
			WithDetail("T_state", ts).
			WithDetail("T_belief", tb)
	}
	return ts, nil
}

// AppendFrame commits one state slice and one belief slice atomically at
// index t. t must equal the current shared length; otherwise nothing is
// written and an integrity fault with code CONFLICT is returned.
func (s *Store) AppendFrame(ctx context.Context, t int, state Grid[uint8], belief Grid[float32]) error {
	length, err := s.CheckAligned(ctx)
	if err != nil {
		return err
	}
	if t != length {
		return conflict(s.runID, t, length, nil)
	}

	sw, err := s.state.prepare(state, t)
	if err != nil {
		return err
	}
	bw, err := s.belief.prepare(belief, t)
	if err != nil {
		return err
	}

	if err := s.backend.AppendSlices(ctx, s.runID, []stores.SliceWrite{sw, bw}); err != nil {
		if errors.Is(err, stores.ErrConflict) {
			return conflict(s.runID, t, -1, err)
		}
		return classify(err, s.runID, "append frame")
	}

	s.state.observe(sw)
	s.belief.observe(bw)
	return nil
}

// conflict reports a frame written against a stale length.
// length is -1 when the backend detected the race.
func conflict(runID string, t, length int, cause error) error {
	msg := fmt.Sprintf("frame %d was appended concurrently", t)
	if length >= 0 {
		msg = fmt.Sprintf("frame %d expected but run holds %d slices", t, length)
	}
	ee := engine.NewIntegrityFaultError(msg, cause).
		WithResource(runID).
		WithOperation("append frame").
		WithCode(engine.ErrCodeConflict).
		WithDetail("t", t)
	if length >= 0 {
		ee = ee.WithDetail("length", length)
	}
	return ee
}
