// Package engine wires the transcription subsystems together and provides
// the application-level API for submitting and tracking jobs.
//
// The engine package exists to break a fundamental import cycle: the root
// transcribe package defines Entity (imported by job, cron, cluster, etc.)
// and therefore cannot import those packages back. Engine sits above all
// subsystem packages and below the application layer.
//
// # Building an Engine
//
//	t, err := transcribe.New(
//	    transcribe.WithStore(pgStore),
//	    transcribe.WithConcurrency(8),
//	)
//
//	eng, err := engine.Build(t,
//	    engine.WithQueue(redisQueue),
//	    engine.WithProvider(provider.NewChain(remote, whisper)),
//	    engine.WithObjectStore(fsStore),
//	)
//
// # Submitting Work
//
//	j, err := eng.Submit(ctx, "user-1", "https://cdn.example.com/call.mp3",
//	    job.WithLanguage("en"),
//	    job.WithPriority(10),
//	)
//
// # Options
//
//   - [WithQueue] — set the task queue (memory or Redis)
//   - [WithProvider] — set the transcription provider or failover chain
//   - [WithObjectStore] — enable transcript uploads and retention purges
//   - [WithAnalyzers] — add post-transcription analyzers
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithUserDefaults] — set per-user concurrency and rate limits
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
