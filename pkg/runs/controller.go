package runs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/fields"
	"github.com/awsrt/awsrt/pkg/sim"
	"github.com/awsrt/awsrt/pkg/stores"
	"github.com/awsrt/awsrt/pkg/telemetry"
)

// RunIDPrefix starts every generated run id.
const RunIDPrefix = "run-"

// Backend is the persistence the controller needs.
// *stores.SQLiteStore satisfies it.
type Backend interface {
	fields.Backend
	CreateRunConfig(ctx context.Context, cfg *engine.RunConfig) error
	GetRunConfig(ctx context.Context, runID string) (*engine.RunConfig, error)
	ListRunConfigs(ctx context.Context, limit, offset int) ([]*engine.RunConfig, error)
	DeleteRun(ctx context.Context, runID string) error
}

// Config wires a Controller to its collaborators.
type Config struct {
	// Store persists run configs and field series. Required.
	Store Backend

	// Manifests resolves environment and fire ids. Required.
	Manifests engine.ManifestResolver

	// Belief builds the t=0 belief. Defaults to a uniform prior.
	Belief engine.BeliefInitializer

	// Admission, if set, may veto a run before anything is written.
	Admission engine.AdmissionChecker

	// Fields configures tiling and compression. Codec is required.
	Fields fields.Options

	// Telemetry defaults to telemetry.Nop().
	Telemetry *telemetry.Telemetry

	// Now defaults to time.Now.
	Now func() time.Time
}

// Controller drives runs from init through stepping to completion.
// It is the only writer of a run's time axis.
type Controller struct {
	store     Backend
	manifests engine.ManifestResolver
	belief    engine.BeliefInitializer
	admission engine.AdmissionChecker
	fieldOpts fields.Options
	tel       *telemetry.Telemetry
	logger    *telemetry.Logger
	now       func() time.Time
	locks     *runLocks
}

// InitRequest names the manifests and parameters of a new run.
type InitRequest struct {
	EnvID             string  `json:"env_id"`
	FireID            string  `json:"fire_id"`
	Name              string  `json:"run_name"`
	StepSeconds       int64   `json:"dt_seconds"`
	Horizon           int     `json:"horizon_steps"`
	SpreadProbability float64 `json:"spread_prob"`
}

// NewInitRequest returns a request carrying the default run parameters.
func NewInitRequest(envID, fireID string) InitRequest {
	return InitRequest{
		EnvID:             envID,
		FireID:            fireID,
		Name:              "run",
		StepSeconds:       int64(engine.DefaultStepDuration / time.Second),
		Horizon:           engine.DefaultHorizon,
		SpreadProbability: engine.DefaultSpreadProbability,
	}
}

// InitResult is returned by Init.
type InitResult struct {
	Config *engine.RunConfig `json:"config"`
	Meta   engine.RunMeta    `json:"meta"`
}

// NewController validates cfg and returns a controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("runs: store is required")
	}
	if cfg.Manifests == nil {
		return nil, fmt.Errorf("runs: manifest resolver is required")
	}
	if cfg.Fields.Codec == nil {
		return nil, fmt.Errorf("runs: field codec is required")
	}
	if cfg.Belief == nil {
		cfg.Belief = sim.PriorBelief{Prior: sim.PriorUniform}
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.Nop()
	}
	if cfg.Fields.Observer == nil && cfg.Telemetry.Metrics != nil {
		cfg.Fields.Observer = cfg.Telemetry.Metrics
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Controller{
		store:     cfg.Store,
		manifests: cfg.Manifests,
		belief:    cfg.Belief,
		admission: cfg.Admission,
		fieldOpts: cfg.Fields,
		tel:       cfg.Telemetry,
		logger:    cfg.Telemetry.Logger.NewComponentLogger("runs"),
		now:       cfg.Now,
		locks:     newRunLocks(),
	}, nil
}

// Init resolves the manifests, writes the t=0 frame and persists the run config.
// Nothing is left behind when Init fails.
func (c *Controller) Init(ctx context.Context, req InitRequest) (res *InitResult, err error) {
	op := c.tel.StartRunOperation(ctx, "init", "")
	defer func() { op.End(err) }()
	ctx = op.Ctx

	env, err := c.manifests.ResolveEnvironment(ctx, req.EnvID)
	if err != nil {
		return nil, err
	}
	fire, err := c.manifests.ResolveFire(ctx, req.FireID)
	if err != nil {
		return nil, err
	}
	if fire.EnvID != env.ID {
		return nil, engine.NewInvalidInputError(
			fmt.Sprintf("fire %s belongs to environment %s, not %s", fire.ID, fire.EnvID, env.ID), nil).
			WithResource(fire.ID)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "run"
	}
	cfg := &engine.RunConfig{
		RunID:             RunIDPrefix + uuid.NewString(),
		EnvID:             env.ID,
		FireID:            fire.ID,
		Name:              name,
		StepSeconds:       req.StepSeconds,
		Horizon:           req.Horizon,
		SpreadProbability: req.SpreadProbability,
		Height:            env.Grid.Height,
		Width:             env.Grid.Width,
		CreatedAt:         c.now().UTC(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c.admission != nil {
		if err := c.admission.Admit(ctx, cfg, env, fire); err != nil {
			return nil, err
		}
	}

	state, err := sim.StateFromIgnitions(env, fire)
	if err != nil {
		return nil, err
	}
	beliefData, err := c.belief.InitialBelief(env, fire)
	if err != nil {
		return nil, err
	}
	belief, err := fields.GridFrom(cfg.Height, cfg.Width, beliefData)
	if err != nil {
		return nil, err
	}

	logger := op.Logger.WithRunID(cfg.RunID).WithManifest(env.ID, fire.ID)
	if err := c.writeInitial(ctx, cfg, state, belief); err != nil {
		if cleanupErr := c.store.DeleteRun(context.WithoutCancel(ctx), cfg.RunID); cleanupErr != nil && !errors.Is(cleanupErr, stores.ErrNotFound) {
			logger.WithError(cleanupErr).Warn("failed to remove partial run")
		}
		_ = c.tel.Events.PublishRunFailed(cfg.RunID, "init", err)
		return nil, err
	}

	meta := engine.RunMeta{
		RunID:   cfg.RunID,
		Height:  cfg.Height,
		Width:   cfg.Width,
		T:       1,
		Horizon: cfg.Horizon,
		Phase:   engine.PhaseFor(0, cfg.Horizon),
	}

	c.tel.Metrics.RecordRunInitialized(fire.Model)
	_ = c.tel.Events.PublishRunInitialized(cfg.RunID, env.ID, fire.ID, cfg.Horizon)
	if meta.Phase == engine.PhaseComplete {
		_ = c.tel.Events.PublishRunCompleted(cfg.RunID, 0)
	}
	logger.WithFields(map[string]interface{}{
		"horizon": cfg.Horizon,
		"q":       cfg.SpreadProbability,
		"ignited": state.Count(1),
	}).Info("run initialized")

	return &InitResult{Config: cfg, Meta: meta}, nil
}

func (c *Controller) writeInitial(ctx context.Context, cfg *engine.RunConfig, state fields.Grid[uint8], belief fields.Grid[float32]) error {
	fs, err := fields.CreateOrOpen(ctx, c.store, cfg.RunID, cfg.Height, cfg.Width, c.fieldOpts)
	if err != nil {
		return err
	}
	if err := fs.AppendFrame(ctx, 0, state, belief); err != nil {
		return err
	}
	if err := c.store.CreateRunConfig(ctx, cfg); err != nil {
		if errors.Is(err, stores.ErrAlreadyExists) {
			return engine.NewIntegrityFaultError("run id already in use", err).
				WithResource(cfg.RunID).
				WithCode(engine.ErrCodeConflict)
		}
		return engine.NewInternalError("failed to persist run config", err).WithResource(cfg.RunID)
	}
	return nil
}

// Step advances the run by one slice. At the horizon it is a no-op that
// reports the current index with Done set.
func (c *Controller) Step(ctx context.Context, runID string) (engine.StepResult, error) {
	unlock := c.locks.lock(runID)
	defer unlock()
	return c.step(ctx, runID)
}

func (c *Controller) step(ctx context.Context, runID string) (res engine.StepResult, err error) {
	op := c.tel.StartRunOperation(ctx, "step", runID)
	c.tel.Metrics.StepStarted()
	defer func() {
		outcome := telemetry.StepOutcomeAdvanced
		switch {
		case err != nil:
			outcome = telemetry.StepOutcomeError
			_ = c.tel.Events.PublishRunFailed(runID, "step", err)
		case res.Done:
			outcome = telemetry.StepOutcomeComplete
		}
		c.tel.Metrics.RecordStep(outcome, op.End(err))
	}()
	ctx = op.Ctx

	cfg, fs, err := c.open(ctx, runID)
	if err != nil {
		return engine.StepResult{}, err
	}
	length, err := fs.CheckAligned(ctx)
	if err != nil {
		return engine.StepResult{}, err
	}
	if length == 0 {
		return engine.StepResult{}, engine.NewIntegrityFaultError("run has no initial frame", nil).
			WithResource(runID).
			WithOperation("step")
	}

	tCur := length - 1
	if tCur+1 >= cfg.Horizon {
		return engine.StepResult{RunID: runID, T: tCur, Done: true}, nil
	}

	state, err := fs.State().Read(ctx, tCur)
	if err != nil {
		return engine.StepResult{}, err
	}
	belief, err := fs.Belief().Read(ctx, tCur)
	if err != nil {
		return engine.StepResult{}, err
	}

	next, err := sim.Step(state, cfg.SpreadProbability, sim.SourceFor(runID, tCur))
	if err != nil {
		return engine.StepResult{}, err
	}

	t := tCur + 1
	if err := fs.AppendFrame(ctx, t, next, belief); err != nil {
		return engine.StepResult{}, err
	}

	res = engine.StepResult{RunID: runID, T: t, Done: t+1 >= cfg.Horizon}
	burning := next.Count(1)
	op.Logger.WithStep(t).WithField("burning", burning).Debug("stepped")
	_ = c.tel.Events.PublishRunStepped(runID, t, burning)
	if res.Done {
		_ = c.tel.Events.PublishRunCompleted(runID, t)
	}
	return res, nil
}

// Advance steps up to n times, stopping early at the horizon.
// Cancelling ctx stops it between steps; committed steps are kept.
func (c *Controller) Advance(ctx context.Context, runID string, n int) (engine.StepResult, error) {
	if n < 1 {
		return engine.StepResult{}, engine.NewInvalidInputError(fmt.Sprintf("step count must be >= 1, got %d", n), nil).
			WithResource(runID).
			WithDetail("n", n)
	}

	unlock := c.locks.lock(runID)
	defer unlock()

	var res engine.StepResult
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		r, err := c.step(ctx, runID)
		if err != nil {
			return res, err
		}
		res = r
		if res.Done {
			break
		}
	}
	return res, nil
}

// ReadState returns the state slice at t.
func (c *Controller) ReadState(ctx context.Context, runID string, t int) (fields.Grid[uint8], error) {
	_, fs, err := c.open(ctx, runID)
	if err != nil {
		return fields.Grid[uint8]{}, err
	}
	return fs.State().Read(ctx, t)
}

// ReadBelief returns the belief slice at t.
func (c *Controller) ReadBelief(ctx context.Context, runID string, t int) (fields.Grid[float32], error) {
	_, fs, err := c.open(ctx, runID)
	if err != nil {
		return fields.Grid[float32]{}, err
	}
	return fs.Belief().Read(ctx, t)
}

// ReadEncoded returns slice t of the named series as one compressed frame.
func (c *Controller) ReadEncoded(ctx context.Context, runID, series string, t int) ([]byte, error) {
	_, fs, err := c.open(ctx, runID)
	if err != nil {
		return nil, err
	}
	switch series {
	case fields.StateSeries:
		return fs.State().ReadEncoded(ctx, t)
	case fields.BeliefSeries:
		return fs.Belief().ReadEncoded(ctx, t)
	default:
		return nil, engine.NewInvalidInputError(fmt.Sprintf("unknown series %q", series), nil).WithResource(runID)
	}
}

// Meta reports the stored shape and lifecycle phase of a run.
func (c *Controller) Meta(ctx context.Context, runID string) (engine.RunMeta, error) {
	cfg, fs, err := c.open(ctx, runID)
	if err != nil {
		return engine.RunMeta{}, err
	}
	length, err := fs.CheckAligned(ctx)
	if err != nil {
		return engine.RunMeta{}, err
	}
	h, w := fs.Shape()
	return engine.RunMeta{
		RunID:   runID,
		Height:  h,
		Width:   w,
		T:       length,
		Horizon: cfg.Horizon,
		Phase:   engine.PhaseFor(length-1, cfg.Horizon),
	}, nil
}

// Latest returns the newest committed index, or -1 before the first frame.
func (c *Controller) Latest(ctx context.Context, runID string) (int, error) {
	meta, err := c.Meta(ctx, runID)
	if err != nil {
		return 0, err
	}
	return meta.T - 1, nil
}

// Config returns the run's stored parameters.
func (c *Controller) Config(ctx context.Context, runID string) (*engine.RunConfig, error) {
	cfg, err := c.store.GetRunConfig(ctx, runID)
	if err != nil {
		return nil, runNotFound(err, runID)
	}
	return cfg, nil
}

// List returns run configs ordered by run id.
func (c *Controller) List(ctx context.Context, limit, offset int) ([]*engine.RunConfig, error) {
	cfgs, err := c.store.ListRunConfigs(ctx, limit, offset)
	if err != nil {
		return nil, engine.NewInternalError("failed to list runs", err)
	}
	return cfgs, nil
}

func (c *Controller) open(ctx context.Context, runID string) (*engine.RunConfig, *fields.Store, error) {
	cfg, err := c.Config(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	fs, err := fields.Open(ctx, c.store, runID, c.fieldOpts)
	if err != nil {
		return nil, nil, err
	}
	if h, w := fs.Shape(); h != cfg.Height || w != cfg.Width {
		return nil, nil, engine.NewShapeMismatchError(
			fmt.Sprintf("run config is %dx%d but stored fields are %dx%d", cfg.Height, cfg.Width, h, w), nil).
			WithResource(runID)
	}
	return cfg, fs, nil
}

func runNotFound(err error, runID string) error {
	if errors.Is(err, stores.ErrNotFound) {
		return engine.NewNotFoundError(fmt.Sprintf("run %s not found", runID), err).WithResource(runID)
	}
	return engine.NewInternalError("failed to load run config", err).WithResource(runID)
}
