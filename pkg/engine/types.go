package engine

import (
	"fmt"
	"math"
	"time"
)

// DefaultCRS is the coordinate reference system assumed when a grid names none.
const DefaultCRS = "EPSG:32612"

// DefaultSpreadModel is the spread-model identifier recorded on fires that name none.
const DefaultSpreadModel = "E2_base"

// Run defaults applied when an init request leaves a field unset.
const (
	DefaultHorizon           = 24
	DefaultStepDuration      = time.Hour
	DefaultSpreadProbability = 0.3
)

// GridSpec describes the raster a run is simulated on.
type GridSpec struct {
	// Height is the number of rows.
	Height int `json:"H" yaml:"H" validate:"gt=0"`

	// Width is the number of columns.
	Width int `json:"W" yaml:"W" validate:"gt=0"`

	// CellSize is the edge length of one cell in meters.
	CellSize float64 `json:"cell_size" yaml:"cell_size" validate:"gt=0"`

	// CRS is the coordinate reference system code.
	CRS string `json:"crs_code" yaml:"crs_code"`
}

// Validate checks the grid dimensions.
func (g GridSpec) Validate() error {
	if g.Height <= 0 || g.Width <= 0 {
		return NewInvalidInputError(fmt.Sprintf("grid dimensions must be positive, got %dx%d", g.Height, g.Width), nil).
			WithDetail("H", g.Height).
			WithDetail("W", g.Width)
	}
	if !(g.CellSize > 0) {
		return NewInvalidInputError(fmt.Sprintf("cell size must be positive, got %v", g.CellSize), nil).
			WithDetail("cell_size", g.CellSize)
	}
	return nil
}

// Contains reports whether the cell lies inside the grid.
func (g GridSpec) Contains(c Cell) bool {
	return c.Row >= 0 && c.Row < g.Height && c.Col >= 0 && c.Col < g.Width
}

// Environment is an immutable description of the simulated landscape.
type Environment struct {
	ID                  string   `json:"env_id" yaml:"env_id"`
	Grid                GridSpec `json:"grid" yaml:"grid" validate:"required"`
	Seed                int64    `json:"seed" yaml:"seed"`
	TerrainElevPath     *string  `json:"terrain_elev_path" yaml:"terrain_elev_path,omitempty"`
	FeasibilityMaskPath *string  `json:"feasibility_mask_path" yaml:"feasibility_mask_path,omitempty"`
}

// Cell addresses one grid cell.
type Cell struct {
	Row int `json:"row" yaml:"row"`
	Col int `json:"col" yaml:"col"`
}

// IgnitionType enumerates supported ignition shapes.
type IgnitionType string

const (
	// IgnitionPoint ignites an explicit list of cells.
	IgnitionPoint IgnitionType = "point"
)

// IgnitionSpec lists the cells burning at the start of a run.
type IgnitionSpec struct {
	Type      IgnitionType `json:"type" yaml:"type" validate:"omitempty,oneof=point"`
	Locations []Cell       `json:"locations" yaml:"locations" validate:"required,min=1"`

	// T0 is recorded with the fire but runs always start at t=0.
	T0 int `json:"t0" yaml:"t0" validate:"gte=0"`
}

// Validate checks the ignition set against a grid.
func (s IgnitionSpec) Validate(grid GridSpec) error {
	if s.Type != "" && s.Type != IgnitionPoint {
		return NewInvalidInputError(fmt.Sprintf("unsupported ignition type %q", s.Type), nil).
			WithDetail("type", s.Type)
	}
	if len(s.Locations) == 0 {
		return NewInvalidInputError("ignitions must contain at least one location", nil)
	}
	for i, c := range s.Locations {
		if !grid.Contains(c) {
			return NewInvalidInputError(
				fmt.Sprintf("ignition %d at (%d,%d) is outside the %dx%d grid", i, c.Row, c.Col, grid.Height, grid.Width), nil).
				WithDetail("row", c.Row).
				WithDetail("col", c.Col)
		}
	}
	return nil
}

// FireManifest is an immutable description of a fire scenario in an environment.
type FireManifest struct {
	ID        string       `json:"fire_id" yaml:"fire_id"`
	EnvID     string       `json:"env_id" yaml:"env_id" validate:"required"`
	Ignitions IgnitionSpec `json:"ignitions" yaml:"ignitions"`
	Model     string       `json:"model" yaml:"model"`
	Seed      int64        `json:"seed" yaml:"seed"`
}

// RunConfig is the immutable parameter record of a run, written once at init.
type RunConfig struct {
	RunID             string    `json:"run_id"`
	EnvID             string    `json:"env_id"`
	FireID            string    `json:"fire_id"`
	Name              string    `json:"run_name"`
	StepSeconds       int64     `json:"dt_seconds"`
	Horizon           int       `json:"horizon_steps"`
	SpreadProbability float64   `json:"spread_prob"`
	Height            int       `json:"H"`
	Width             int       `json:"W"`
	CreatedAt         time.Time `json:"created_at"`
}

// StepDuration returns the simulated time covered by one step.
func (c *RunConfig) StepDuration() time.Duration {
	return time.Duration(c.StepSeconds) * time.Second
}

// Validate checks the numeric run parameters.
func (c *RunConfig) Validate() error {
	if c.Horizon < 1 {
		return NewInvalidInputError(fmt.Sprintf("horizon must be >= 1, got %d", c.Horizon), nil).
			WithDetail("horizon_steps", c.Horizon)
	}
	if c.StepSeconds < 1 {
		return NewInvalidInputError(fmt.Sprintf("step duration must be >= 1s, got %ds", c.StepSeconds), nil).
			WithDetail("dt_seconds", c.StepSeconds)
	}
	if err := ValidateProbability(c.SpreadProbability); err != nil {
		return err
	}
	if c.Height <= 0 || c.Width <= 0 {
		return NewInvalidInputError(fmt.Sprintf("grid dimensions must be positive, got %dx%d", c.Height, c.Width), nil)
	}
	return nil
}

// ValidateProbability rejects values outside [0, 1] and NaN.
func ValidateProbability(q float64) error {
	if math.IsNaN(q) || q < 0 || q > 1 {
		return NewInvalidInputError(fmt.Sprintf("spread probability must be in [0, 1], got %v", q), nil).
			WithDetail("spread_prob", q)
	}
	return nil
}

// Phase is the lifecycle position of a run.
type Phase string

const (
	// PhaseCreated means the run config exists but no slice has been written.
	PhaseCreated Phase = "created"

	// PhaseAdvancing means further steps are possible.
	PhaseAdvancing Phase = "advancing"

	// PhaseComplete means the horizon has been reached.
	PhaseComplete Phase = "complete"
)

// PhaseFor derives the phase from the latest slice index and the horizon.
func PhaseFor(latest, horizon int) Phase {
	switch {
	case latest < 0:
		return PhaseCreated
	case latest+1 >= horizon:
		return PhaseComplete
	default:
		return PhaseAdvancing
	}
}

// StepResult is the outcome of one step request.
type StepResult struct {
	RunID string `json:"run_id"`
	T     int    `json:"t"`
	Done  bool   `json:"done"`
}

// RunMeta summarizes the stored shape of a run.
type RunMeta struct {
	RunID   string `json:"run_id"`
	Height  int    `json:"H"`
	Width   int    `json:"W"`
	T       int    `json:"T"`
	Horizon int    `json:"horizon_steps"`
	Phase   Phase  `json:"phase"`
}
