package policy

// MaxGridCells and MaxHorizon bound what the built-in policies admit.
const (
	MaxGridCells = 16_000_000
	MaxHorizon   = 100_000
)

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		gridSizePolicy(),
		horizonLimitPolicy(),
		spreadExtremesPolicy(),
	}
}

// gridSizePolicy rejects rasters whose slices would not fit comfortably in memory.
func gridSizePolicy() Policy {
	return Policy{
		Name:        "grid-size",
		Description: "Rejects environments larger than 16M cells",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"resources"},
		Rego: `package awsrt.policies.grid_size

deny contains violation if {
	input.grid.cells > 16000000
	violation := {
		"message": sprintf("grid %dx%d has %d cells, the limit is 16000000", [input.grid.H, input.grid.W, input.grid.cells]),
		"severity": "error",
	}
}
`,
	}
}

func horizonLimitPolicy() Policy {
	return Policy{
		Name:        "horizon-limit",
		Description: "Rejects horizons above 100000 steps",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"resources"},
		Rego: `package awsrt.policies.horizon_limit

deny contains violation if {
	input.run.horizon_steps > 100000
	violation := {
		"message": sprintf("horizon of %d steps exceeds the limit of 100000", [input.run.horizon_steps]),
		"severity": "error",
	}
}
`,
	}
}

// spreadExtremesPolicy flags runs whose outcome does not depend on the random source.
func spreadExtremesPolicy() Policy {
	return Policy{
		Name:        "spread-extremes",
		Description: "Warns when the spread probability is exactly 0 or 1",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"modelling"},
		Rego: `package awsrt.policies.spread_extremes

deny contains violation if {
	input.run.spread_prob == 0
	violation := {
		"message": "spread probability 0 never ignites new cells",
		"severity": "warning",
	}
}

deny contains violation if {
	input.run.spread_prob == 1
	violation := {
		"message": "spread probability 1 makes every step deterministic",
		"severity": "warning",
	}
}
`,
	}
}
