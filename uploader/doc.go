// Package uploader moves artifacts to object storage with transient-only
// retries, exponential backoff and post-upload verification. Error
// classification happens here, at the I/O boundary, so callers branch on
// typed kinds instead of message substrings.
package uploader
