// Package audit records transcription lifecycle events to a pluggable
// audit backend.
//
// The package defines a small [Recorder] interface instead of depending on
// any concrete audit system; callers inject their backend at wiring time:
//
//	rec := audit.RecorderFunc(func(ctx context.Context, evt *audit.Event) error {
//	    return auditLog.Write(ctx, evt.Action, evt.ResourceID, evt.Metadata)
//	})
//
//	eng, err := engine.Build(t,
//	    engine.WithExtension(audit.New(rec)),
//	)
//
// Recorder failures are logged and never interrupt job processing.
package audit
