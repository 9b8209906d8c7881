// Package fields stores the state and belief series of a run.
//
// Each series is an append-only (T, H, W) array. H and W are fixed when the
// series is created; T grows by one per append and never shrinks. A slice
// is split into square tiles of at most 256x256 cells, each compressed with
// zstd and committed together with the length bump, so a reader never sees
// a partially written slice.
//
// The state series holds uint8 values in {0, 1}; any nonzero input is stored
// as 1. The belief series holds float32 values clamped into [0, 1].
//
// Store.AppendFrame writes one slice to both series in a single transaction,
// which keeps their lengths equal.
package fields
