package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/telemetry"
)

// Admitter gates run init on the engine's policies.
type Admitter struct {
	engine *Engine
	events *telemetry.EventPublisher
	logger zerolog.Logger
}

var _ engine.AdmissionChecker = (*Admitter)(nil)

// NewAdmitter wraps e. Warnings are published on events when it is non-nil.
func NewAdmitter(e *Engine, events *telemetry.EventPublisher, logger zerolog.Logger) *Admitter {
	return &Admitter{
		engine: e,
		events: events,
		logger: logger.With().Str("component", "admission").Logger(),
	}
}

// Admit evaluates the run and fails with a policy-denied error on any blocking violation.
func (a *Admitter) Admit(ctx context.Context, cfg *engine.RunConfig, env *engine.Environment, fire *engine.FireManifest) error {
	result, err := a.engine.Evaluate(ctx, NewInput(cfg, env, fire))
	if err != nil {
		return engine.NewInternalError("policy evaluation failed", err).
			WithResource(cfg.RunID).
			WithOperation("admit")
	}

	for _, w := range result.Warnings {
		a.logger.Warn().Str("run_id", cfg.RunID).Str("policy", w.Policy).Msg(w.Message)
		_ = a.events.PublishPolicyWarning(cfg.RunID, w.Policy, w.Message)
	}

	if result.Allowed {
		return nil
	}

	msgs := make([]string, 0, len(result.Violations))
	names := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		msgs = append(msgs, v.Message)
		names = append(names, v.Policy)
	}
	return engine.NewInvalidInputError(fmt.Sprintf("run denied by policy: %s", strings.Join(msgs, "; ")), nil).
		WithResource(cfg.RunID).
		WithOperation("admit").
		WithCode(engine.ErrCodePolicyDenied).
		WithDetail("policies", names)
}
