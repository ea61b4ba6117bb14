// Package logger provides leveled logging on top of zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu            sync.RWMutex
	defaultLogger = zerolog.Nop()
	initialized   bool
)

// New builds a logger writing to w. Format "text" selects the console
// writer, anything else JSON lines. Unknown levels fall back to info.
func New(level, format string, w io.Writer) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(format, "text") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.StampMicro}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(lvl)
}

// Init initializes the default logger with the specified level and format.
func Init(level string, format string) {
	SetLogger(New(level, format, os.Stderr))
}

// SetLogger replaces the default logger.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defaultLogger = l
	initialized = true
	mu.Unlock()
}

// Get returns the default logger for callers that want structured fields.
func Get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

func Debug(format string, args ...interface{}) {
	l := Get()
	l.Debug().Msg(fmt.Sprintf(format, args...))
}

func Info(format string, args ...interface{}) {
	l := Get()
	l.Info().Msg(fmt.Sprintf(format, args...))
}

func Warn(format string, args ...interface{}) {
	l := Get()
	l.Warn().Msg(fmt.Sprintf(format, args...))
}

func Error(format string, args ...interface{}) {
	l := Get()
	l.Error().Msg(fmt.Sprintf(format, args...))
}

func Fatal(format string, args ...interface{}) {
	mu.RLock()
	l, ok := defaultLogger, initialized
	mu.RUnlock()
	if !ok {
		l = New("info", "text", os.Stderr)
	}
	l.WithLevel(zerolog.FatalLevel).Msg(fmt.Sprintf(format, args...))
	os.Exit(1)
}
