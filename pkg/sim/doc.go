// Package sim holds the deterministic fire stepper and its seeding.
//
// A step from slice t of a run draws from NewSource(DeriveSeed(runID, t)),
// so re-running the step from a stored state[t] reproduces state[t+1]
// bit for bit.
package sim
