// Package store defines the composite persistence interface. Each
// subsystem (job, cron, cluster) declares its own store contract; a backend
// implements all of them behind one value.
package store
