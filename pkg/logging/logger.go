package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// InitLogging initializes logging
// format "console" gives human readable output, anything else JSON lines.
func InitLogging(level, format string) {
	var out io.Writer = os.Stdout
	if strings.EqualFold(format, "console") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Debugf logs debug level messages
func Debugf(format string, v ...interface{}) {
	logger.Debug().Msgf(format, v...)
}

// Infof logs info level messages
func Infof(format string, v ...interface{}) {
	logger.Info().Msgf(format, v...)
}

// Warnf logs warning level messages
func Warnf(format string, v ...interface{}) {
	logger.Warn().Msgf(format, v...)
}

// Errorf logs error level messages
func Errorf(format string, v ...interface{}) {
	logger.Error().Msgf(format, v...)
}
