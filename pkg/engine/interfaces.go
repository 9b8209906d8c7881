package engine

import (
	"context"
)

// ManifestResolver looks up environments and fires by id.
// The run engine only reads through it.
type ManifestResolver interface {
	// ResolveEnvironment returns the environment or a not-found error.
	ResolveEnvironment(ctx context.Context, envID string) (*Environment, error)

	// ResolveFire returns the fire or a not-found error.
	ResolveFire(ctx context.Context, fireID string) (*FireManifest, error)
}

// BeliefInitializer produces the t=0 belief field for a run.
// Values must lie in [0, 1] and the slice must hold height*width cells.
type BeliefInitializer interface {
	InitialBelief(env *Environment, fire *FireManifest) ([]float32, error)
}

// AdmissionChecker inspects a run before anything is persisted.
// A returned error aborts the init.
type AdmissionChecker interface {
	Admit(ctx context.Context, cfg *RunConfig, env *Environment, fire *FireManifest) error
}
