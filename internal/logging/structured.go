package logging

import (
	"io"
	"log/slog"
	"os"
)

// InitStructured reconfigures the operational logger.
// format: "text" (default) or "json" (Loki/ELK compatible)
// level: "debug", "info", "warn", "error"
func InitStructured(format, level string) {
	InitStructuredTo(os.Stderr, format, level)
}

// InitStructuredTo is InitStructured with an explicit destination.
func InitStructuredTo(w io.Writer, format, level string) {
	SetLevelFromString(level)
	opLogger.Store(newLogger(w, format))
}

// SetLogger replaces the operational logger. The handler of l is wrapped
// with the invocation-aware handler unless it already is one.
func SetLogger(l *slog.Logger) {
	if _, ok := l.Handler().(*InvocationHandler); !ok {
		l = slog.New(NewInvocationHandler(l.Handler()))
	}
	opLogger.Store(l)
}
