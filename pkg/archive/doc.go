// Package archive exports runs to S3-compatible object storage.
//
// A run is laid out under runs/<run_id>/ as config.json, meta.json and one
// zstd-compressed object per slice at <series>/<t>.zst, with t zero-padded
// to six digits. meta.json is written last so its presence marks a
// complete export.
package archive
