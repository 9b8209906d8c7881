package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/awsrt/awsrt/pkg/engine"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryContextKey struct{}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, err
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewEventPublisher(cfg.Events),
		Config:  cfg,
	}, nil
}

// Nop returns telemetry that discards logs, spans and metrics.
// Events are still delivered synchronously so subscribers work in tests.
func Nop() *Telemetry {
	cfg := DefaultConfig()
	cfg.Metrics.Enabled = false
	tracer, _ := NewTracer(TracingConfig{}, cfg.ServiceName, cfg.ServiceVersion)
	metrics, _ := NewMetrics(cfg.Metrics)
	return &Telemetry{
		Logger:  NopLogger(),
		Tracer:  tracer,
		Metrics: metrics,
		Events:  NewEventPublisher(cfg.Events),
		Config:  cfg,
	}
}

// WithContext adds the telemetry instance and its logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryContextKey{}, t)
	return t.Logger.WithContext(ctx)
}

// FromTelemetryContext retrieves the telemetry instance from the context, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	if t, ok := ctx.Value(telemetryContextKey{}).(*Telemetry); ok {
		return t
	}
	return nil
}

// Shutdown stops the event publisher and flushes spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
	)
}

// Operation is an instrumented unit of work on a run.
type Operation struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Timer  *Timer

	tel  *Telemetry
	name string
}

// StartRunOperation opens a span and a scoped logger for one run operation.
func (t *Telemetry) StartRunOperation(ctx context.Context, operation, runID string) *Operation {
	spanCtx, span := t.Tracer.StartRunSpan(ctx, operation, runID)

	logger := t.Logger.WithField("operation", operation)
	if runID != "" {
		logger = logger.WithRunID(runID)
	}
	if sc := span.SpanContext(); sc.IsValid() {
		logger = logger.WithField("trace_id", sc.TraceID().String())
	}

	return &Operation{
		Ctx:    logger.WithContext(spanCtx),
		Span:   span,
		Logger: logger,
		Timer:  NewTimer(),
		tel:    t,
		name:   operation,
	}
}

// End closes the span and records the error class, if any.
func (o *Operation) End(err error) time.Duration {
	elapsed := o.Timer.Duration()
	if err != nil {
		class := engine.ClassOf(err)
		o.Span.SetAttributes(AttrErrorClass.String(string(class)))
		var ee *engine.EngineError
		if errors.As(err, &ee) && ee.Code != "" {
			o.Span.SetAttributes(AttrErrorCode.String(ee.Code))
		}
		RecordError(o.Span, err)
		o.tel.Metrics.RecordError(string(class))
		o.Logger.WithError(err).WithField("duration_ms", elapsed.Milliseconds()).Warnf("%s failed", o.name)
	} else {
		RecordSuccess(o.Span)
		o.Logger.WithField("duration_ms", elapsed.Milliseconds()).Debugf("%s completed", o.name)
	}
	o.Span.End()
	return elapsed
}
