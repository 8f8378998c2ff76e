// Package transcribe provides a durable audio-transcription pipeline for Go.
// It offers library-first background transcription jobs, provider fallback,
// orphan recovery, and scheduled maintenance sweeps.
//
// Transcribe is designed as a library, not a service. Import it, configure a
// store and a queue, and submit audio sources as ordinary Go calls.
//
// # Quick Start
//
//	eng, err := engine.Build(
//	    transcribe.New(transcribe.WithStore(pgStore)),
//	    engine.WithQueue(redisQueue),
//	    engine.WithProvider(chain),
//	)
//
// # Architecture
//
// Transcribe follows a composable store pattern where each subsystem (job,
// cron, cluster) defines its own store interface. A single backend implements
// all of them. The queue is a separate contract so the job record of truth
// and the work distribution layer can live on different infrastructure.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package transcribe
