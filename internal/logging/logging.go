package logging

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger writing to the console and to the log file.
// If the log file cannot be opened the logger falls back to the console only.
func New() zerolog.Logger {
	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	logPath := getLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		log := NewWithWriter(console)
		log.Warn().Err(err).Str("path", logPath).Msg("Log file unavailable, logging to console only")
		return log
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		log := NewWithWriter(console)
		log.Warn().Err(err).Str("path", logPath).Msg("Log file unavailable, logging to console only")
		return log
	}

	return NewWithWriter(zerolog.MultiLevelWriter(console, logFile))
}

// NewWithWriter creates a logger writing to w only.
func NewWithWriter(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// LevelForVerbosity maps the number of -v flags to a log level.
func LevelForVerbosity(verbosity int) zerolog.Level {
	switch {
	case verbosity <= 0:
		return zerolog.InfoLevel
	case verbosity == 1:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// SetVerbosity applies the verbosity to every logger in the process,
// including the ones created before the options were parsed.
func SetVerbosity(verbosity int) {
	zerolog.SetGlobalLevel(LevelForVerbosity(verbosity))
}

// getLogPath returns platform-specific log file path
func getLogPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Logs"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/state"
		}
	}

	return filepath.Join(base, "obridge", "obridge.log")
}
