package policy

import (
	"time"

	"github.com/awsrt/awsrt/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but never blocks a run.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the run.
	SeverityError Severity = "error"
)

// blocking reports whether a violation of this severity denies admission.
func (s Severity) blocking() bool {
	return s == SeverityError
}

// Policy is a named Rego module whose deny set is evaluated at run init.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the policy source. It must define a deny set.
	Rego string `json:"rego"`

	// Severity applies to violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation is one element of a policy's deny set.
type Violation struct {
	Policy   string                 `json:"policy"`
	RunID    string                 `json:"run_id,omitempty"`
	Message  string                 `json:"message"`
	Severity Severity               `json:"severity"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// Result is the outcome of evaluating every enabled policy against one input.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations are the blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	Run  RunInput  `json:"run"`
	Grid GridInput `json:"grid"`
	Fire FireInput `json:"fire"`
}

// RunInput carries the parameters of the run being admitted.
type RunInput struct {
	RunID             string  `json:"run_id"`
	Name              string  `json:"run_name"`
	EnvID             string  `json:"env_id"`
	FireID            string  `json:"fire_id"`
	StepSeconds       int64   `json:"dt_seconds"`
	Horizon           int     `json:"horizon_steps"`
	SpreadProbability float64 `json:"spread_prob"`
}

// GridInput describes the environment raster.
type GridInput struct {
	Height   int     `json:"H"`
	Width    int     `json:"W"`
	Cells    int64   `json:"cells"`
	CellSize float64 `json:"cell_size"`
	CRS      string  `json:"crs_code"`
}

// FireInput summarizes the fire scenario.
type FireInput struct {
	Model     string `json:"model"`
	Ignitions int    `json:"ignitions"`
}

// NewInput builds the policy input for a run about to be initialized.
func NewInput(cfg *engine.RunConfig, env *engine.Environment, fire *engine.FireManifest) *Input {
	return &Input{
		Run: RunInput{
			RunID:             cfg.RunID,
			Name:              cfg.Name,
			EnvID:             cfg.EnvID,
			FireID:            cfg.FireID,
			StepSeconds:       cfg.StepSeconds,
			Horizon:           cfg.Horizon,
			SpreadProbability: cfg.SpreadProbability,
		},
		Grid: GridInput{
			Height:   env.Grid.Height,
			Width:    env.Grid.Width,
			Cells:    int64(env.Grid.Height) * int64(env.Grid.Width),
			CellSize: env.Grid.CellSize,
			CRS:      env.Grid.CRS,
		},
		Fire: FireInput{
			Model:     fire.Model,
			Ignitions: len(fire.Ignitions.Locations),
		},
	}
}
