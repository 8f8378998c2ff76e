// Package middleware wraps job processing with cross-cutting behaviour:
// panic recovery, structured logging, optional per-job deadlines, OTel
// metrics and tracing, and user-scope injection.
package middleware
