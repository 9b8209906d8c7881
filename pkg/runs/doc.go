// Package runs owns the run lifecycle: init, stepping to the horizon,
// read-only replay and verification.
//
// A run moves through created, advancing and complete. Init writes the
// t=0 frame and the run config; each Step reads the newest state slice,
// seeds a random source from (run id, t), applies the stepper and appends
// the new state together with the unchanged belief. Steps on one run id
// are serialized; different runs step independently.
package runs
