// Package logging configures the zerolog loggers used by workers and tests.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel   = "LIFEBAND_LOG_LEVEL"
	EnvLogNoColor = "LIFEBAND_LOG_NOCOLOR"
)

// Init builds the runtime logger: console output on stderr with timestamps
// and an app field. Level defaults to info and follows EnvLogLevel.
func Init(app string) zerolog.Logger {
	return New(os.Stderr, app)
}

// New is Init with an explicit destination.
func New(out io.Writer, app string) zerolog.Logger {
	noColor, _ := parseBool(os.Getenv(EnvLogNoColor))
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
		NoColor:    noColor,
	}
	level, ok := ParseLevel(os.Getenv(EnvLogLevel))
	if !ok {
		level = zerolog.InfoLevel
	}
	return zerolog.New(output).Level(level).With().Timestamp().Str("app", app).Logger()
}

// ForRank tags every event with the worker rank.
func ForRank(l zerolog.Logger, rank int) zerolog.Logger {
	return l.With().Int("rank", rank).Logger()
}

// Nop discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// ParseLevel maps the accepted level names onto zerolog levels.
func ParseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
