package sim

import (
	"fmt"

	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/fields"
)

// PriorUniform assigns the same probability to every cell.
const PriorUniform = "uniform"

// UniformValue is the probability PriorUniform assigns.
const UniformValue = 0.5

// PriorBelief builds initial belief fields from a named prior.
type PriorBelief struct {
	// Prior names the prior; empty means uniform.
	Prior string
}

// Field returns the prior belief for an environment's grid.
func (p PriorBelief) Field(env *engine.Environment) (fields.Grid[float32], error) {
	if err := env.Grid.Validate(); err != nil {
		return fields.Grid[float32]{}, err
	}

	switch p.Prior {
	case "", PriorUniform:
		return fields.FilledGrid[float32](env.Grid.Height, env.Grid.Width, UniformValue), nil
	default:
		return fields.Grid[float32]{}, engine.NewInvalidInputError(fmt.Sprintf("unknown belief prior %q", p.Prior), nil).
			WithDetail("prior", p.Prior)
	}
}

// InitialBelief implements engine.BeliefInitializer.
func (p PriorBelief) InitialBelief(env *engine.Environment, _ *engine.FireManifest) ([]float32, error) {
	g, err := p.Field(env)
	if err != nil {
		return nil, err
	}
	return g.Data, nil
}

var _ engine.BeliefInitializer = PriorBelief{}
