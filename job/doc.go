// Package job defines the transcription job record, its status state
// machine, the transcript result, and the job store contract.
package job
