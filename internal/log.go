package internal

import (
	"context"
	"log/slog"
)

// LevelTrace is a slog level below Debug for per-segment wire tracing,
// the noisiest logging tier in the engine.
const LevelTrace = slog.Level(-8)

// LogAttrs logs msg at lvl on log if non-nil, no-op otherwise so callers
// can hold a zero-value Logger before a real one is configured.
func LogAttrs(log *slog.Logger, lvl slog.Level, msg string, attrs ...slog.Attr) {
	if log == nil {
		return
	}
	log.LogAttrs(context.Background(), lvl, msg, attrs...)
}

// Logger is embedded into protocol state machines to give them leveled,
// allocation-shy logging gated on whether a handler is actually listening.
type Logger struct {
	Log *slog.Logger
}

func (l *Logger) Enabled(lvl slog.Level) bool {
	return l.Log != nil && l.Log.Handler().Enabled(context.Background(), lvl)
}

func (l *Logger) Trace(msg string, attrs ...slog.Attr) {
	LogAttrs(l.Log, LevelTrace, msg, attrs...)
}

func (l *Logger) Debug(msg string, attrs ...slog.Attr) {
	LogAttrs(l.Log, slog.LevelDebug, msg, attrs...)
}

func (l *Logger) Error(msg string, attrs ...slog.Attr) {
	LogAttrs(l.Log, slog.LevelError, msg, attrs...)
}
