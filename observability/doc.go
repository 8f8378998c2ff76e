// Package observability provides a metrics extension that counts pipeline
// lifecycle events (submissions, completions, failures, recoveries,
// sweeps) through OpenTelemetry.
package observability
