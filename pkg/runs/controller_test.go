package runs

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/awsrt/awsrt/pkg/engine"
	"github.com/awsrt/awsrt/pkg/fields"
	"github.com/awsrt/awsrt/pkg/stores"
	"github.com/awsrt/awsrt/pkg/telemetry"
)

type fakeManifests struct {
	envs  map[string]*engine.Environment
	fires map[string]*engine.FireManifest
}

func (m *fakeManifests) ResolveEnvironment(_ context.Context, id string) (*engine.Environment, error) {
	if env, ok := m.envs[id]; ok {
		return env, nil
	}
	return nil, engine.NewNotFoundError("environment "+id+" not found", nil).WithResource(id)
}

func (m *fakeManifests) ResolveFire(_ context.Context, id string) (*engine.FireManifest, error) {
	if fire, ok := m.fires[id]; ok {
		return fire, nil
	}
	return nil, engine.NewNotFoundError("fire "+id+" not found", nil).WithResource(id)
}

func (m *fakeManifests) add(h, w int, ignitions ...engine.Cell) (envID, fireID string) {
	envID = "env-" + string(rune('a'+len(m.envs)))
	fireID = "fire-" + string(rune('a'+len(m.fires)))
	m.envs[envID] = &engine.Environment{
		ID:   envID,
		Grid: engine.GridSpec{Height: h, Width: w, CellSize: 30, CRS: engine.DefaultCRS},
	}
	m.fires[fireID] = &engine.FireManifest{
		ID:    fireID,
		EnvID: envID,
		Ignitions: engine.IgnitionSpec{
			Type:      engine.IgnitionPoint,
			Locations: ignitions,
		},
		Model: engine.DefaultSpreadModel,
	}
	return envID, fireID
}

type denyAll struct{}

func (denyAll) Admit(_ context.Context, cfg *engine.RunConfig, _ *engine.Environment, _ *engine.FireManifest) error {
	return engine.NewInvalidInputError("denied by test policy", nil).
		WithCode(engine.ErrCodePolicyDenied).
		WithResource(cfg.RunID)
}

type harness struct {
	ctrl      *Controller
	store     *stores.SQLiteStore
	manifests *fakeManifests
	codec     *fields.Codec
	events    []telemetry.Event
	mu        sync.Mutex
}

func setupController(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	codec, err := fields.NewCodec(zstd.SpeedFastest)
	if err != nil {
		t.Fatalf("failed to create codec: %v", err)
	}
	t.Cleanup(func() { _ = codec.Close() })

	h := &harness{
		store: store,
		manifests: &fakeManifests{
			envs:  make(map[string]*engine.Environment),
			fires: make(map[string]*engine.FireManifest),
		},
		codec: codec,
	}

	tel := telemetry.Nop()
	tel.Events.Subscribe(func(e telemetry.Event) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.events = append(h.events, e)
	}, nil)

	cfg := Config{
		Store:     store,
		Manifests: h.manifests,
		Fields:    fields.Options{TileSize: 2, Codec: codec},
		Telemetry: tel,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	h.ctrl, err = NewController(cfg)
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	return h
}

func (h *harness) eventTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	types := make([]string, len(h.events))
	for i, e := range h.events {
		types[i] = e.Type
	}
	return types
}

func initRun(t *testing.T, h *harness, horizon int, q float64, gridH, gridW int, ignitions ...engine.Cell) string {
	t.Helper()
	envID, fireID := h.manifests.add(gridH, gridW, ignitions...)
	req := NewInitRequest(envID, fireID)
	req.Horizon = horizon
	req.SpreadProbability = q

	res, err := h.ctrl.Init(context.Background(), req)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return res.Config.RunID
}

func TestInitThenStepSpreadsToNeighbours(t *testing.T) {
	h := setupController(t)
	ctx := context.Background()
	runID := initRun(t, h, 3, 1.0, 3, 3, engine.Cell{Row: 1, Col: 1})

	state0, err := h.ctrl.ReadState(ctx, runID, 0)
	if err != nil {
		t.Fatalf("ReadState(0) failed: %v", err)
	}
	if state0.Count(1) != 1 || state0.At(1, 1) != 1 {
		t.Fatalf("state[0] = %v, want only (1,1) set", state0.Data)
	}

	res, err := h.ctrl.Step(ctx, runID)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if res.T != 1 || res.Done {
		t.Fatalf("Step = %+v, want T=1 Done=false", res)
	}

	state1, err := h.ctrl.ReadState(ctx, runID, 1)
	if err != nil {
		t.Fatalf("ReadState(1) failed: %v", err)
	}
	want := []uint8{
		0, 1, 0,
		1, 1, 1,
		0, 1, 0,
	}
	for i, v := range want {
		if state1.Data[i] != v {
			t.Fatalf("state[1] = %v, want %v", state1.Data, want)
		}
	}

	belief0, err := h.ctrl.ReadBelief(ctx, runID, 0)
	if err != nil {
		t.Fatalf("ReadBelief(0) failed: %v", err)
	}
	belief1, err := h.ctrl.ReadBelief(ctx, runID, 1)
	if err != nil {
		t.Fatalf("ReadBelief(1) failed: %v", err)
	}
	if !belief1.Equal(belief0) {
		t.Error("belief was not carried forward unchanged")
	}
}

func TestHorizonOneIsCompleteAtInit(t *testing.T) {
	h := setupController(t)
	ctx := context.Background()
	envID, fireID := h.manifests.add(2, 2, engine.Cell{Row: 0, Col: 0})

	req := NewInitRequest(envID, fireID)
	req.Horizon = 1
	res, err := h.ctrl.Init(ctx, req)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if res.Meta.Phase != engine.PhaseComplete {
		t.Errorf("phase after init = %s, want complete", res.Meta.Phase)
	}

	runID := res.Config.RunID
	step, err := h.ctrl.Step(ctx, runID)
	if err != nil {
		t.Fatalf("Step failed: %v", err)
	}
	if step.T != 0 || !step.Done {
		t.Errorf("Step = %+v, want T=0 Done=true", step)
	}

	meta, err := h.ctrl.Meta(ctx, runID)
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	if meta.T != 1 {
		t.Errorf("T after no-op step = %d, want 1", meta.T)
	}
}

func TestAdvanceStopsAtHorizon(t *testing.T) {
	h := setupController(t)
	ctx := context.Background()
	runID := initRun(t, h, 4, 0.3, 6, 6, engine.Cell{Row: 3, Col: 3})

	res, err := h.ctrl.Advance(ctx, runID, 10)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.T != 3 || !res.Done {
		t.Errorf("Advance = %+v, want T=3 Done=true", res)
	}

	meta, err := h.ctrl.Meta(ctx, runID)
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	if meta.T != 4 || meta.Phase != engine.PhaseComplete {
		t.Errorf("Meta = %+v, want T=4 complete", meta)
	}

	latest, err := h.ctrl.Latest(ctx, runID)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest != 3 {
		t.Errorf("Latest = %d, want 3", latest)
	}

	if _, err := h.ctrl.ReadState(ctx, runID, 4); !engine.IsNotFound(err) {
		t.Errorf("ReadState past horizon = %v, want not found", err)
	}
}

func TestAdvancePartial(t *testing.T) {
	h := setupController(t)
	ctx := context.Background()
	runID := initRun(t, h, 24, 0.3, 4, 4, engine.Cell{Row: 0, Col: 0})

	res, err := h.ctrl.Advance(ctx, runID, 5)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if res.T != 5 || res.Done {
		t.Errorf("Advance = %+v, want T=5 Done=false", res)
	}
	meta, _ := h.ctrl.Meta(ctx, runID)
	if meta.Phase != engine.PhaseAdvancing {
		t.Errorf("phase = %s, want advancing", meta.Phase)
	}
}

func TestAdvanceRejectsNonPositiveCount(t *testing.T) {
	h := setupController(t)
	runID := initRun(t, h, 5, 0.5, 3, 3, engine.Cell{Row: 1, Col: 1})

	for _, n := range []int{0, -3} {
		if _, err := h.ctrl.Advance(context.Background(), runID, n); !engine.IsInvalidInput(err) {
			t.Errorf("Advance(%d) = %v, want invalid input", n, err)
		}
	}
}

func TestAdvanceHonoursCancellation(t *testing.T) {
	h := setupController(t)
	runID := initRun(t, h, 50, 0.5, 3, 3, engine.Cell{Row: 1, Col: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := h.ctrl.Advance(ctx, runID, 10); !errors.Is(err, context.Canceled) {
		t.Fatalf("Advance on cancelled context = %v, want context.Canceled", err)
	}

	latest, err := h.ctrl.Latest(context.Background(), runID)
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest != 0 {
		t.Errorf("latest after cancelled advance = %d, want 0", latest)
	}
}

func TestUnknownRun(t *testing.T) {
	h := setupController(t)
	ctx := context.Background()

	if _, err := h.ctrl.Step(ctx, "run-missing"); !engine.IsNotFound(err) {
		t.Errorf("Step = %v, want not found", err)
	}
	if _, err := h.ctrl.Meta(ctx, "run-missing"); !engine.IsNotFound(err) {
		t.Errorf("Meta = %v, want not found", err)
	}
	if _, err := h.ctrl.ReadBelief(ctx, "run-missing", 0); !engine.IsNotFound(err) {
		t.Errorf("ReadBelief = %v, want not found", err)
	}
	if _, err := h.ctrl.Verify(ctx, "run-missing"); !engine.IsNotFound(err) {
		t.Errorf("Verify = %v, want not found", err)
	}
}

func TestInitValidation(t *testing.T) {
	h := setupController(t)
	envID, fireID := h.manifests.add(3, 3, engine.Cell{Row: 1, Col: 1})
	otherEnv, _ := h.manifests.add(2, 2, engine.Cell{Row: 0, Col: 0})

	tests := []struct {
		name   string
		mutate func(*InitRequest)
		check  func(error) bool
	}{
		{"unknown env", func(r *InitRequest) { r.EnvID = "env-nope" }, engine.IsNotFound},
		{"unknown fire", func(r *InitRequest) { r.FireID = "fire-nope" }, engine.IsNotFound},
		{"fire from other env", func(r *InitRequest) { r.EnvID = otherEnv }, engine.IsInvalidInput},
		{"zero horizon", func(r *InitRequest) { r.Horizon = 0 }, engine.IsInvalidInput},
		{"q above one", func(r *InitRequest) { r.SpreadProbability = 1.5 }, engine.IsInvalidInput},
		{"q below zero", func(r *InitRequest) { r.SpreadProbability = -0.1 }, engine.IsInvalidInput},
		{"zero step duration", func(r *InitRequest) { r.StepSeconds = 0 }, engine.IsInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := NewInitRequest(envID, fireID)
			tt.mutate(&req)
			if _, err := h.ctrl.Init(context.Background(), req); !tt.check(err) {
				t.Errorf("Init error = %v", err)
			}
		})
	}

	runs, err := h.ctrl.List(context.Background(), 100, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("failed inits left %d runs behind", len(runs))
	}
}

func TestInitRejectsEmptyIgnitions(t *testing.T) {
	h := setupController(t)
	envID, fireID := h.manifests.add(3, 3)
	if _, err := h.ctrl.Init(context.Background(), NewInitRequest(envID, fireID)); !engine.IsInvalidInput(err) {
		t.Errorf("Init with no ignitions = %v, want invalid input", err)
	}
}

func TestAdmissionDenialPersistsNothing(t *testing.T) {
	h := setupController(t, func(c *Config) { c.Admission = denyAll{} })
	envID, fireID := h.manifests.add(3, 3, engine.Cell{Row: 1, Col: 1})

	_, err := h.ctrl.Init(context.Background(), NewInitRequest(envID, fireID))
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Code != engine.ErrCodePolicyDenied {
		t.Fatalf("Init = %v, want policy denial", err)
	}

	runs, _ := h.ctrl.List(context.Background(), 10, 0)
	if len(runs) != 0 {
		t.Errorf("denied init left %d runs", len(runs))
	}
}

func TestConcurrentStepsSerialize(t *testing.T) {
	h := setupController(t)
	ctx := context.Background()
	runID := initRun(t, h, 100, 0.4, 8, 8, engine.Cell{Row: 4, Col: 4})

	const workers = 8
	results := make([]int, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.ctrl.Step(ctx, runID)
			results[i], errs[i] = res.T, err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d failed: %v", i, err)
		}
	}
	sort.Ints(results)
	for i, got := range results {
		if got != i+1 {
			t.Fatalf("step indices = %v, want 1..%d", results, workers)
		}
	}

	meta, err := h.ctrl.Meta(ctx, runID)
	if err != nil {
		t.Fatalf("Meta failed: %v", err)
	}
	if meta.T != workers+1 {
		t.Errorf("T = %d, want %d", meta.T, workers+1)
	}
	if n := h.ctrl.locks.size(); n != 0 {
		t.Errorf("%d run locks still registered", n)
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	h := setupController(t)
	ctx := context.Background()
	runID := initRun(t, h, 12, 0.35, 10, 10, engine.Cell{Row: 5, Col: 5}, engine.Cell{Row: 0, Col: 9})

	if _, err := h.ctrl.Advance(ctx, runID, 11); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	report, err := h.ctrl.Verify(ctx, runID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !report.OK() || report.Checked != 11 {
		t.Errorf("Verify = %+v, want 11 checked and no mismatch", report)
	}
}

func TestVerifyDetectsForeignSlice(t *testing.T) {
	h := setupController(t)
	ctx := context.Background()
	runID := initRun(t, h, 10, 1.0, 4, 4, engine.Cell{Row: 1, Col: 1})

	fs, err := fields.Open(ctx, h.store, runID, fields.Options{Codec: h.codec})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	belief, err := fs.Belief().Read(ctx, 0)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if err := fs.AppendFrame(ctx, 1, fields.NewGrid[uint8](4, 4), belief); err != nil {
		t.Fatalf("AppendFrame failed: %v", err)
	}

	report, err := h.ctrl.Verify(ctx, runID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if report.Mismatch != 1 || report.Series != fields.StateSeries {
		t.Errorf("Verify = %+v, want mismatch at state[1]", report)
	}
}

func TestStepReportsDivergedSeries(t *testing.T) {
	h := setupController(t)
	ctx := context.Background()
	runID := initRun(t, h, 10, 0.5, 3, 3, engine.Cell{Row: 1, Col: 1})

	fs, err := fields.Open(ctx, h.store, runID, fields.Options{Codec: h.codec})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := fs.State().Append(ctx, fields.NewGrid[uint8](3, 3)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if _, err := h.ctrl.Step(ctx, runID); !engine.IsShapeMismatch(err) {
		t.Errorf("Step on diverged run = %v, want shape mismatch", err)
	}
	if _, err := h.ctrl.Meta(ctx, runID); !engine.IsShapeMismatch(err) {
		t.Errorf("Meta on diverged run = %v, want shape mismatch", err)
	}
}

func TestLifecycleEvents(t *testing.T) {
	h := setupController(t)
	runID := initRun(t, h, 3, 0.2, 3, 3, engine.Cell{Row: 1, Col: 1})

	if _, err := h.ctrl.Advance(context.Background(), runID, 5); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	want := []string{
		telemetry.EventTypeRunInitialized,
		telemetry.EventTypeRunStepped,
		telemetry.EventTypeRunStepped,
		telemetry.EventTypeRunCompleted,
	}
	got := h.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestEventRecorderPersists(t *testing.T) {
	h := setupController(t)
	h.ctrl.tel.Events.Subscribe(EventRecorder(h.store, telemetry.NopLogger()), nil)

	runID := initRun(t, h, 2, 0.5, 3, 3, engine.Cell{Row: 1, Col: 1})
	if _, err := h.ctrl.Step(context.Background(), runID); err != nil {
		t.Fatalf("Step failed: %v", err)
	}

	events, err := h.store.GetEvents(context.Background(), &runID, nil, 10, 0)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("stored %d events, want 3", len(events))
	}
	if events[0].Type != telemetry.EventTypeRunInitialized || events[2].Type != telemetry.EventTypeRunCompleted {
		t.Errorf("unexpected event order: %s ... %s", events[0].Type, events[2].Type)
	}
	if events[1].Details == nil {
		t.Error("step event has no details")
	}
}

func TestListRuns(t *testing.T) {
	h := setupController(t)
	a := initRun(t, h, 2, 0.1, 2, 2, engine.Cell{Row: 0, Col: 0})
	b := initRun(t, h, 2, 0.1, 2, 2, engine.Cell{Row: 1, Col: 1})

	runs, err := h.ctrl.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("List returned %d runs, want 2", len(runs))
	}
	ids := []string{runs[0].RunID, runs[1].RunID}
	want := []string{a, b}
	sort.Strings(want)
	if ids[0] != want[0] || ids[1] != want[1] {
		t.Errorf("List ids = %v, want %v", ids, want)
	}
}

func TestNewControllerRequiresCollaborators(t *testing.T) {
	if _, err := NewController(Config{}); err == nil {
		t.Error("NewController with no store should fail")
	}
}

// racingStore runs race once, just before the next AppendSlices commits.
type racingStore struct {
	Backend
	race func()
}

func (s *racingStore) AppendSlices(ctx context.Context, runID string, writes []stores.SliceWrite) error {
	if race := s.race; race != nil {
		s.race = nil
		race()
	}
	return s.Backend.AppendSlices(ctx, runID, writes)
}

func TestConcurrentControllersDoNotForkTimeline(t *testing.T) {
	h := setupController(t)
	ctx := context.Background()
	runID := initRun(t, h, 10, 1.0, 4, 4, engine.Cell{Row: 1, Col: 1})

	racer := &racingStore{Backend: h.store}
	other, err := NewController(Config{
		Store:     racer,
		Manifests: h.manifests,
		Fields:    fields.Options{TileSize: 2, Codec: h.codec},
	})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}

	racer.race = func() {
		if _, err := h.ctrl.Step(ctx, runID); err != nil {
			t.Errorf("racing Step failed: %v", err)
		}
	}
	if _, err := other.Step(ctx, runID); !engine.IsIntegrityFault(err) {
		t.Fatalf("stale Step = %v, want integrity fault", err)
	}

	latest, err := h.ctrl.Latest(ctx, runID)
	if err != nil || latest != 1 {
		t.Fatalf("Latest = %d, %v; want 1", latest, err)
	}

	// The losing controller recovers on its next call.
	res, err := other.Step(ctx, runID)
	if err != nil {
		t.Fatalf("Step after conflict failed: %v", err)
	}
	if res.T != 2 {
		t.Errorf("Step after conflict = %+v, want t=2", res)
	}

	report, err := h.ctrl.Verify(ctx, runID)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !report.OK() || report.Checked != 2 {
		t.Errorf("Verify = %+v, want 2 checked and no mismatch", report)
	}
}
