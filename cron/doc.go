// Package cron schedules recurring maintenance work (zombie and retention
// sweeps) across a worker fleet. Entries are persisted; a leader-elected
// scheduler fires each due entry under a per-entry lock so a sweep runs
// once per fleet, not once per process.
package cron
