// Package manifests stores environment and fire manifests as files.
//
// Ids are content derived: a prefix, the first ten hex digits of the SHA-1
// of the manifest's canonical JSON, and six random hex digits, e.g.
// env-3f9a1c02be-7d41aa. New manifests are written as <id>.json; hand
// written <id>.yaml files are read as well.
//
// Every manifest is checked twice: struct tags via validator and the CUE
// definitions #Environment and #Fire. FileStore implements
// engine.ManifestResolver and is read-only from the run engine's side.
package manifests
