// Package logging builds the structured logger shared by every clockwork
// component, mapping the source daemon's six error kinds (diagnostic,
// information, warning, error, fatal, die) onto slog levels.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// LevelDiagnostic sits below Debug; it is only emitted when the configured
// level is "diagnostic", mirroring the source's debug-only trace messages.
const LevelDiagnostic = slog.Level(-8)

// New builds a slog.Logger writing JSON to stderr at the named level.
// level is one of "diagnostic", "debug", "info", "warn", "error".
func New(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "diagnostic":
		l = LevelDiagnostic
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	return slog.New(h)
}

// Diagnostic logs at the below-debug diagnostic level.
func Diagnostic(l *slog.Logger, msg string, args ...any) {
	l.Log(context.Background(), LevelDiagnostic, msg, args...)
}

// Die logs at error level with outcome "die" and terminates the
// process, mirroring the source's elog_die().
func Die(l *slog.Logger, msg string, args ...any) {
	l.Error(msg, append(args, "outcome", "die")...)
	os.Exit(1)
}

// Fatal logs at error level with an abandoned outcome but does not
// terminate the process, mirroring the source's FATAL kind (operation
// abandoned, caller notified, process may continue).
func Fatal(l *slog.Logger, msg string, args ...any) {
	l.Error(msg, append(args, "outcome", "abandoned")...)
}
