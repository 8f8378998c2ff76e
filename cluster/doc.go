// Package cluster tracks worker liveness and leader election so fleet-wide
// maintenance (sweeps) fires exactly once.
package cluster
