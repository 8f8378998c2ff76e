package audit

// Audit action names, one per lifecycle hook.
const (
	ActionSubmitted      = "transcription.submitted"
	ActionStarted        = "transcription.started"
	ActionCompleted      = "transcription.completed"
	ActionFailed         = "transcription.failed"
	ActionRecovered      = "transcription.recovered"
	ActionSwept          = "transcription.swept"
	ActionArtifactPurged = "artifact.purged"
	ActionCronFired      = "cron.fired"
)

// AllActions lists every action this package can record.
func AllActions() []string {
	return []string{
		ActionSubmitted,
		ActionStarted,
		ActionCompleted,
		ActionFailed,
		ActionRecovered,
		ActionSwept,
		ActionArtifactPurged,
		ActionCronFired,
	}
}
