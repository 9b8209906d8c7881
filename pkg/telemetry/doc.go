// Package telemetry provides observability for the awsrt run engine.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), Prometheus metrics and a run event publisher.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	op := tel.StartRunOperation(ctx, "step", runID)
//	res, err := doStep(op.Ctx)
//	op.End(err)
//
// # Metrics
//
// All metrics are registered on a private registry under the "awsrt"
// namespace:
//
//	awsrt_runs_initialized_total{model}
//	awsrt_steps_total{outcome}          advanced, complete, error
//	awsrt_step_duration_seconds
//	awsrt_slices_appended_total{series} state, belief
//	awsrt_slice_bytes{series}
//	awsrt_errors_by_class_total{class}
//	awsrt_active_runs
//
// Metrics implements fields.SliceObserver so the field store reports slice
// sizes directly. A nil or disabled *Metrics is a no-op.
//
// # Events
//
// EventPublisher emits run.initialized, run.stepped, run.completed,
// run.failed and policy.warning. Subscribers are called in publish order,
// inline by default or from a single background goroutine when
// EnableAsync is set.
package telemetry
