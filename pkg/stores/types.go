package stores

import (
	"context"
	"errors"
	"time"

	"github.com/awsrt/awsrt/pkg/engine"
)

var (
	// ErrNotFound is wrapped by every lookup that matches no row.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a run config id is reused.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned when an append's expected index does not
	// match the committed length of its series.
	ErrConflict = errors.New("append conflict")
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// SeriesInfo describes one stored field series of a run.
type SeriesInfo struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	DType     string    `json:"dtype"`
	Height    int       `json:"height"`
	Width     int       `json:"width"`
	TileSize  int       `json:"tile_size"`
	Codec     string    `json:"codec"`
	Length    int       `json:"length"`
	CreatedAt time.Time `json:"created_at"`
}

// Chunk is one encoded spatial tile of a time slice.
type Chunk struct {
	TileRow int
	TileCol int
	Data    []byte
}

// SliceWrite appends one time slice to a series.
// T is the index the caller expects the slice to receive.
type SliceWrite struct {
	Series string
	T      int
	Chunks []Chunk
}

// Event represents an append-only run lifecycle event
type Event struct {
	ID        int64      `json:"id"`
	EventID   string     `json:"event_id"`
	RunID     string     `json:"run_id"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// Store defines the persistence operations used by the run engine.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Run configs
	CreateRunConfig(ctx context.Context, cfg *engine.RunConfig) error
	GetRunConfig(ctx context.Context, runID string) (*engine.RunConfig, error)
	ListRunConfigs(ctx context.Context, limit, offset int) ([]*engine.RunConfig, error)
	DeleteRun(ctx context.Context, runID string) error

	// Field series
	EnsureSeries(ctx context.Context, info *SeriesInfo) (*SeriesInfo, error)
	GetSeries(ctx context.Context, runID, name string) (*SeriesInfo, error)
	AppendSlices(ctx context.Context, runID string, writes []SliceWrite) error
	ReadChunks(ctx context.Context, runID, series string, t int) ([]Chunk, error)

	// Events
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)
}
