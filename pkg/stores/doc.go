// Package stores provides the persistence layer for awsrt runs.
// It includes SQLite-based storage with WAL mode, embedded schema
// migrations, and operations for run configs, compressed field
// chunks with compare-and-append semantics, and run events.
package stores
