package faultwatch

import (
	"io"
	"log/slog"
	"sync/atomic"
)

var pkgLogger atomic.Pointer[slog.Logger]

func init() {
	SetLogger(nil)
}

// SetLogger sets where the package logs lifecycle events (enable, disable, arm, cancel, degraded
// mode). Passing nil discards them, which is the default.
//
// Nothing is ever logged while a signal is being handled.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pkgLogger.Store(l.With("component", "faultwatch"))
}

func logger() *slog.Logger {
	return pkgLogger.Load()
}
