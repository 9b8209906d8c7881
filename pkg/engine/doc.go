// Package engine provides the core types and interfaces shared by the awsrt run engine.
//
// # Overview
//
// A run advances a 2-D fire state and a belief field one deterministic step at a time.
// Every slice is persisted so any step can be replayed exactly. The packages split as:
//
//  1. fields - append-only storage of the state and belief series
//  2. sim - the stochastic stepper and per-step seed derivation
//  3. runs - the lifecycle controller (init, step, advance, replay reads)
//  4. manifests - environments and fires the controller resolves at init
//
// # Core Domain Types
//
//   - GridSpec: raster dimensions and cell size
//   - Environment: an immutable landscape description
//   - FireManifest: ignition cells and spread-model id for an environment
//   - RunConfig: the parameters of one run, written once at init
//   - Phase: created, advancing or complete, derived from the stored length
//
// # Error Handling
//
// Failures are returned as *EngineError with one of five classes:
//
//   - not_found: unknown run, manifest or time index
//   - invalid_input: an argument outside its range
//   - shape_mismatch: grid or series lengths that disagree
//   - integrity_fault: a broken invariant, such as an unexpected append index
//   - internal: storage or I/O failures
//
// Use IsNotFound, IsInvalidInput, IsShapeMismatch and IsIntegrityFault to branch:
//
//	res, err := controller.Step(ctx, runID)
//	if engine.IsNotFound(err) {
//	    // unknown run
//	}
package engine
