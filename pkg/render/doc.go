// Package render turns stored state and belief slices into PNG images.
// Nothing in the run engine calls it; the CLI uses it for previews.
package render
