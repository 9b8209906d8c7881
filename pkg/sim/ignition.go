package sim

import (
	"errors"

	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/fields"
)

// StateFromIgnitions rasterizes a fire's ignition cells onto its environment grid.
// Cells outside the grid are rejected rather than dropped.
func StateFromIgnitions(env *engine.Environment, fire *engine.FireManifest) (fields.Grid[uint8], error) {
	if err := env.Grid.Validate(); err != nil {
		return fields.Grid[uint8]{}, err
	}
	if err := fire.Ignitions.Validate(env.Grid); err != nil {
		var ee *engine.EngineError
		if errors.As(err, &ee) {
			ee.WithResource(fire.ID)
		}
		return fields.Grid[uint8]{}, err
	}

	g := fields.NewGrid[uint8](env.Grid.Height, env.Grid.Width)
	for _, c := range fire.Ignitions.Locations {
		g.Set(c.Row, c.Col, 1)
	}
	return g, nil
}
