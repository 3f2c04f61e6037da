package observability

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	globalLogger zerolog.Logger
	initOnce     sync.Once
)

// ParseLevel maps a configured level name to a zerolog level, defaulting to info
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// InitLogger initializes the global structured logger. Logs go to stderr so
// the CLI can keep stdout for its own output. Only the first call takes effect.
func InitLogger(level string, pretty bool) {
	initOnce.Do(func() {
		zerolog.SetGlobalLevel(ParseLevel(level))

		var out io.Writer = os.Stderr
		if pretty {
			// Pretty console output for development
			out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		}
		globalLogger = zerolog.New(out).With().Timestamp().Logger()
		log.Logger = globalLogger
	})
}

// GetLogger returns the global logger
func GetLogger() zerolog.Logger {
	InitLogger("info", false)
	return globalLogger
}

// WithCorrelationID creates a logger carrying a session correlation ID
func WithCorrelationID(correlationID string) zerolog.Logger {
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	return GetLogger().With().Str("session_id", correlationID).Logger()
}

// NewCorrelationID generates a new correlation ID
func NewCorrelationID() string {
	return uuid.New().String()
}
