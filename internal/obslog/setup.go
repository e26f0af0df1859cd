package obslog

import (
	"io"
	"log/slog"
)

var globalBuffer = NewRingBuffer(1000)

// Buffer returns the process-wide log ring buffer.
func Buffer() *RingBuffer {
	return globalBuffer
}

// Init installs the ring-buffer-backed slog handler as the process default,
// writing JSON at level to fallback and coalescing repeated failures.
func Init(fallback io.Writer, level slog.Level) {
	coalescer := NewCoalescer()
	handler := NewHandler(globalBuffer, coalescer, fallback, level)
	slog.SetDefault(slog.New(handler))
}

// ParseLevel maps the config file's logging.level string to an slog.Level,
// defaulting to Info for an unrecognized value.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
