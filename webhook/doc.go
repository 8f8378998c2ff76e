// Package webhook delivers transcription lifecycle events to an external
// HTTP endpoint.
//
// Each lifecycle hook posts a JSON envelope to the configured URL. The
// request body is signed with HMAC-SHA256 when a secret is set, so the
// receiver can verify origin:
//
//	X-Transcribe-Signature: sha256=<hex digest of body>
//
// Deliveries happen asynchronously with retries; a failing endpoint never
// slows down job processing. OnShutdown waits for in-flight deliveries.
package webhook
