// Package queue defines the durable task queue contract: leased dequeue,
// native retry with backoff, stalled-lease events, and a per-user
// concurrency manager. The job record of truth lives in the job store; the
// queue only distributes work.
package queue
