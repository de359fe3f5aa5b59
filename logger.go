package modwire

// Logger defines the interface for container logging.
// The container uses structured logging with key-value pairs so that
// embedding applications control how its output appears:
//
//	logger.Info("Module installed", "module", m.ID(), "location", m.Location())
//
// The interface is compatible with log/slog, charmbracelet/log and most
// structured logging libraries through a thin adapter.
type Logger interface {
	// Info logs normal lifecycle events such as installs and refreshes.
	Info(msg string, args ...any)

	// Error logs failures that indicate corrupted or unexpected state.
	Error(msg string, args ...any)

	// Warn logs recoverable problems such as activator failures in a batch.
	Warn(msg string, args ...any)

	// Debug logs resolution internals: snapshots, retries, singleton choices.
	Debug(msg string, args ...any)
}

// nopLogger discards everything. It is the default when no logger is given.
type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
