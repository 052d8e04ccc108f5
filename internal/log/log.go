package log

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger

func init() {
	Configure("info", "console")
}

// Configure sets up the global logger with the given level and format.
// Level is one of trace, debug, info, warn, error; format is "console" or "json".
func Configure(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if format == "json" {
		logger = zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
		return
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
	}
	logger = zerolog.New(console).Level(lvl).With().Timestamp().Logger()
}

// Trace logs a trace-level message with optional key/value pairs.
func Trace(msg string, kv ...any) { emit(logger.Trace(), msg, kv) }

// Debug logs a debug-level message with optional key/value pairs.
func Debug(msg string, kv ...any) { emit(logger.Debug(), msg, kv) }

// Info logs an info-level message with optional key/value pairs.
func Info(msg string, kv ...any) { emit(logger.Info(), msg, kv) }

// Warn logs a warn-level message with optional key/value pairs.
func Warn(msg string, kv ...any) { emit(logger.Warn(), msg, kv) }

// Error logs an error-level message with optional key/value pairs.
func Error(msg string, kv ...any) { emit(logger.Error(), msg, kv) }

func emit(e *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		e = e.Interface(key, kv[i+1])
	}
	e.Msg(msg)
}
