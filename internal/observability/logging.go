package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger creates a structured JSON logger on stdout tagged with component.
// The level is governed globally by SetLogLevel.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerTo(os.Stdout, component)
}

// NewLoggerTo is NewLogger with an explicit sink.
func NewLoggerTo(w io.Writer, component string) zerolog.Logger {
	return zerolog.New(w).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// SetLogLevel applies the configured level to every logger.
func SetLogLevel(s string) {
	zerolog.SetGlobalLevel(parseLogLevel(s))
}

func parseLogLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
