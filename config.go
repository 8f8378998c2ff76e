package transcribe

import "time"

// Config holds engine-level configuration.
type Config struct {
	// Concurrency is the number of tasks a worker processes in parallel.
	Concurrency int

	// PollInterval is how often workers poll the queue for tasks.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs on Stop.
	ShutdownTimeout time.Duration

	// LeaseInterval is how often workers extend leases on active tasks.
	LeaseInterval time.Duration

	// LeaseTTL is how long a task lease lasts before the queue reports it
	// stalled.
	LeaseTTL time.Duration

	// SettleDelay is how long the recovery service waits after startup
	// before its first orphan scan, giving in-flight work a chance to
	// report.
	SettleDelay time.Duration

	// GracePeriod exempts jobs updated within this window from recovery.
	GracePeriod time.Duration

	// RecoveryMaxAttempts bounds re-submission of a recovered job.
	RecoveryMaxAttempts int

	// ZombieAge is the absolute age after which a non-terminal job is
	// failed by the zombie sweep.
	ZombieAge time.Duration

	// RetentionWindow is how long source audio of terminal jobs is kept
	// before the retention sweep deletes it.
	RetentionWindow time.Duration

	// ZombieSweepSchedule is the cron expression for the zombie sweep.
	ZombieSweepSchedule string

	// RetentionSweepSchedule is the cron expression for the artifact
	// retention sweep.
	RetentionSweepSchedule string

	// HeartbeatInterval is how often workers report liveness to the
	// cluster store.
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:            2,
		PollInterval:           1 * time.Second,
		ShutdownTimeout:        30 * time.Second,
		LeaseInterval:          10 * time.Second,
		LeaseTTL:               30 * time.Second,
		SettleDelay:            30 * time.Second,
		GracePeriod:            2 * time.Minute,
		RecoveryMaxAttempts:    3,
		ZombieAge:              2 * time.Hour,
		RetentionWindow:        30 * 24 * time.Hour,
		ZombieSweepSchedule:    "@every 10m",
		RetentionSweepSchedule: "0 3 * * *",
		HeartbeatInterval:      15 * time.Second,
	}
}
