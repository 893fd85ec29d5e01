// Package log provides the package-level LogDebugf/LogInfof/LogWarnf/
// LogErrorf call sites used throughout this module, in the house style
// of the teacher codebase's util/log package, backed by zerolog rather
// than a hand-rolled formatter.
package log

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	mu       sync.RWMutex
	logger   = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"}).With().Timestamp().Logger()
	enabled  int32 = 1
	minLevel       = int32(zerolog.InfoLevel)
)

// SetOutput redirects the sink, e.g. to a file opened by the caller.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = logger.Output(w)
}

// SetLevel filters messages below the given zerolog level
// (zerolog.DebugLevel, zerolog.InfoLevel, ...).
func SetLevel(level zerolog.Level) {
	atomic.StoreInt32(&minLevel, int32(level))
}

// Disable silences all logging; used by tests that assert on stdout/stderr.
func Disable() { atomic.StoreInt32(&enabled, 0) }

// Enable re-enables logging after Disable.
func Enable() { atomic.StoreInt32(&enabled, 1) }

func IsDebugEnabled() bool { return isLevelEnabled(zerolog.DebugLevel) }
func IsWarnEnabled() bool  { return isLevelEnabled(zerolog.WarnLevel) }

func isLevelEnabled(level zerolog.Level) bool {
	return atomic.LoadInt32(&enabled) == 1 && int32(level) >= atomic.LoadInt32(&minLevel)
}

func LogDebugf(format string, args ...interface{}) {
	if !isLevelEnabled(zerolog.DebugLevel) {
		return
	}
	mu.RLock()
	defer mu.RUnlock()
	logger.Debug().Msgf(format, args...)
}

func LogInfof(format string, args ...interface{}) {
	if !isLevelEnabled(zerolog.InfoLevel) {
		return
	}
	mu.RLock()
	defer mu.RUnlock()
	logger.Info().Msgf(format, args...)
}

func LogWarnf(format string, args ...interface{}) {
	if !isLevelEnabled(zerolog.WarnLevel) {
		return
	}
	mu.RLock()
	defer mu.RUnlock()
	logger.Warn().Msgf(format, args...)
}

func LogErrorf(format string, args ...interface{}) {
	if !isLevelEnabled(zerolog.ErrorLevel) {
		return
	}
	mu.RLock()
	defer mu.RUnlock()
	logger.Error().Msgf(format, args...)
}

func LogCritf(format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	logger.Error().Str("level", "CRIT").Msgf(format, args...)
}
