package present

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// nopHandler is a slog.Handler that silently discards all log records.
// Enabled returns false so callers skip message formatting entirely.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

// loggerPtr stores the active logger. Accessed atomically so that
// SetLogger can be called concurrently with logging from any goroutine.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger configures the package-wide logger. By default present
// produces no log output.
//
// SetLogger is safe for concurrent use. Pass nil to restore the silent
// default. Presenters created with WithLogger keep their own logger.
//
// Log levels used by present:
//   - [slog.LevelDebug]: per-frame diagnostics (latched batches, releases)
//   - [slog.LevelInfo]: lifecycle events (display added, presenter closed)
//   - [slog.LevelWarn]: forced fence latches, rejected batches, lost sync groups
//
// Example:
//
//	present.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
}

// Logger returns the current package-wide logger. Sub-packages receive it
// through their options so they do not import present.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
