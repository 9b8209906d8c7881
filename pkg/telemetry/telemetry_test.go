package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/awsrt/awsrt/pkg/engine"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	return m
}

func TestMetricsRecording(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRunInitialized("E2_base")
	m.StepStarted()
	m.RecordStep(StepOutcomeAdvanced, 10*time.Millisecond)
	m.StepStarted()
	m.RecordStep(StepOutcomeComplete, time.Millisecond)
	m.ObserveSlice("state", 120)
	m.ObserveSlice("belief", 900)
	m.ObserveSlice("state", 80)
	m.RecordError(string(engine.ErrorClassNotFound))

	if got := testutil.ToFloat64(m.runsInitialized.WithLabelValues("E2_base")); got != 1 {
		t.Errorf("runs_initialized_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.steps.WithLabelValues(StepOutcomeAdvanced)); got != 1 {
		t.Errorf("steps_total{advanced} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.slicesAppended.WithLabelValues("state")); got != 2 {
		t.Errorf("slices_appended_total{state} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues("not_found")); got != 1 {
		t.Errorf("errors_by_class_total{not_found} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeRuns); got != 0 {
		t.Errorf("active_runs = %v, want 0", got)
	}
	if n := testutil.CollectAndCount(m.stepDuration); n != 1 {
		t.Errorf("step_duration_seconds series = %d, want 1", n)
	}
}

func TestDisabledMetricsAreNoop(t *testing.T) {
	var nilMetrics *Metrics
	nilMetrics.RecordRunInitialized("x")
	nilMetrics.ObserveSlice("state", 1)
	if nilMetrics.Registry() != nil {
		t.Error("nil metrics returned a registry")
	}

	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	m.RecordStep(StepOutcomeError, time.Second)
	if err := m.Serve(context.Background(), ""); err != nil {
		t.Errorf("Serve on disabled metrics = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty service", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "zipkin" }, true},
		{"otlp without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "otlp" }, true},
		{"sampling out of range", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"metrics without address", func(c *Config) { c.Metrics.ListenAddress = "" }, true},
		{"async without buffer", func(c *Config) { c.Events.EnableAsync = true; c.Events.BufferSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerFrom(zerolog.New(&buf))

	logger.NewComponentLogger("runs").WithRunID("run-1").WithStep(3).WithManifest("env-a", "fire-b").Info("stepped")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	want := map[string]interface{}{
		"component": "runs",
		"run_id":    "run-1",
		"t":         float64(3),
		"env_id":    "env-a",
		"fire_id":   "fire-b",
		"message":   "stepped",
		"level":     "info",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("field %s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	if parseLogLevel("debug") != zerolog.DebugLevel {
		t.Error("debug not parsed")
	}
	if parseLogLevel("nonsense") != zerolog.InfoLevel {
		t.Error("unknown level should default to info")
	}
}

func TestEventPublisherOrderAndFilter(t *testing.T) {
	events := NewEventPublisher(EventsConfig{Enabled: true})

	var got []string
	events.Subscribe(func(e Event) { got = append(got, e.Type) }, FilterByRunID("run-a"))

	_ = events.PublishRunInitialized("run-a", "env", "fire", 2)
	_ = events.PublishRunStepped("run-b", 1, 1)
	_ = events.PublishRunStepped("run-a", 1, 1)
	_ = events.PublishRunFailed("run-a", "step", errors.New("boom"))

	want := []string{EventTypeRunInitialized, EventTypeRunStepped, EventTypeRunFailed}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("delivered %v, want %v", got, want)
	}
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	events := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16})

	var mu sync.Mutex
	var ts []int
	events.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		ts = append(ts, e.Data["t"].(int))
	}, FilterByType(EventTypeRunStepped))

	for i := 1; i <= 5; i++ {
		if err := events.PublishRunStepped("run-1", i, i); err != nil {
			t.Fatalf("publish %d failed: %v", i, err)
		}
	}
	if err := events.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(ts) != 5 {
		t.Fatalf("delivered %d events, want 5", len(ts))
	}
	for i, v := range ts {
		if v != i+1 {
			t.Errorf("event %d has t=%d, want %d", i, v, i+1)
		}
	}
	if err := events.PublishRunStepped("run-1", 6, 6); err == nil {
		t.Error("publish after shutdown should fail")
	}
}

func TestDisabledPublisherDropsEvents(t *testing.T) {
	events := NewEventPublisher(EventsConfig{Enabled: false})
	called := false
	events.Subscribe(func(Event) { called = true }, nil)
	if err := events.PublishRunCompleted("run-1", 1); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if called {
		t.Error("disabled publisher delivered an event")
	}
}

func TestOperationEndRecordsErrorClass(t *testing.T) {
	tel := Nop()
	m := newTestMetrics(t)
	tel.Metrics = m

	op := tel.StartRunOperation(context.Background(), "read", "run-1")
	op.End(engine.NewIndexOutOfRangeError("state", 9, 3))

	if got := testutil.ToFloat64(m.errorsByClass.WithLabelValues(string(engine.ErrorClassNotFound))); got != 1 {
		t.Errorf("errors_by_class_total{not_found} = %v, want 1", got)
	}
}
