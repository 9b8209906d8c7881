package engine

import (
	"math"
	"testing"
)

func TestPhaseFor(t *testing.T) {
	tests := []struct {
		latest, horizon int
		want            Phase
	}{
		{-1, 5, PhaseCreated},
		{0, 1, PhaseComplete},
		{0, 5, PhaseAdvancing},
		{3, 5, PhaseAdvancing},
		{4, 5, PhaseComplete},
	}

	for _, tt := range tests {
		if got := PhaseFor(tt.latest, tt.horizon); got != tt.want {
			t.Errorf("PhaseFor(%d, %d) = %s, want %s", tt.latest, tt.horizon, got, tt.want)
		}
	}
}

func TestValidateProbability(t *testing.T) {
	for _, q := range []float64{0, 0.3, 1} {
		if err := ValidateProbability(q); err != nil {
			t.Errorf("ValidateProbability(%v) unexpected error: %v", q, err)
		}
	}
	for _, q := range []float64{-0.01, 1.01, math.NaN(), math.Inf(1)} {
		if err := ValidateProbability(q); !IsInvalidInput(err) {
			t.Errorf("ValidateProbability(%v) = %v, want invalid input", q, err)
		}
	}
}

func TestRunConfigValidate(t *testing.T) {
	base := RunConfig{
		RunID:             "run-x",
		StepSeconds:       3600,
		Horizon:           24,
		SpreadProbability: 0.3,
		Height:            8,
		Width:             8,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *RunConfig)
	}{
		{"zero horizon", func(c *RunConfig) { c.Horizon = 0 }},
		{"zero step", func(c *RunConfig) { c.StepSeconds = 0 }},
		{"q above one", func(c *RunConfig) { c.SpreadProbability = 1.5 }},
		{"zero height", func(c *RunConfig) { c.Height = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := cfg.Validate(); !IsInvalidInput(err) {
				t.Errorf("Validate() = %v, want invalid input", err)
			}
		})
	}
}

func TestIgnitionSpecValidate(t *testing.T) {
	grid := GridSpec{Height: 4, Width: 5, CellSize: 30}

	ok := IgnitionSpec{Type: IgnitionPoint, Locations: []Cell{{Row: 0, Col: 0}, {Row: 3, Col: 4}}}
	if err := ok.Validate(grid); err != nil {
		t.Fatalf("valid ignitions rejected: %v", err)
	}

	bad := []IgnitionSpec{
		{Type: IgnitionPoint},
		{Type: "line", Locations: []Cell{{Row: 0, Col: 0}}},
		{Type: IgnitionPoint, Locations: []Cell{{Row: 4, Col: 0}}},
		{Type: IgnitionPoint, Locations: []Cell{{Row: 0, Col: -1}}},
	}
	for i, spec := range bad {
		if err := spec.Validate(grid); !IsInvalidInput(err) {
			t.Errorf("case %d: Validate() = %v, want invalid input", i, err)
		}
	}
}

func TestGridSpecValidate(t *testing.T) {
	if err := (GridSpec{Height: 1, Width: 1, CellSize: 1}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := (GridSpec{Height: 0, Width: 1, CellSize: 1}).Validate(); !IsInvalidInput(err) {
		t.Errorf("zero height accepted: %v", err)
	}
	if err := (GridSpec{Height: 1, Width: 1, CellSize: 0}).Validate(); !IsInvalidInput(err) {
		t.Errorf("zero cell size accepted: %v", err)
	}
}
