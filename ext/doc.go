// Package ext defines lifecycle hooks and the extension registry.
// Extensions observe the pipeline (submissions, progress, completions,
// recoveries, sweeps); hook errors are logged and never propagate into job
// processing.
package ext
