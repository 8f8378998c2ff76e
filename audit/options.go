package audit

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger for recorder failures.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extension) { e.logger = l }
}

// WithActions restricts recording to the given actions. The default
// records everything.
func WithActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool, len(actions))
		for _, a := range actions {
			e.enabled[a] = true
		}
	}
}
