// Package logging adapts the teacher's leveled-logging API
// (internal/llm/logging/logging.go: Debug/Info/Warn/Error, key-value args,
// a Persist variant for events that must survive a raised level) onto a
// structured JSON sink, using zerolog the way sidedotdev-sidekick wires it
// — the pack's example of a production structured logger — instead of the
// teacher's bare log.Printf, per SPEC_FULL.md's ambient-stack requirement.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Level mirrors the teacher's four-level enum.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger wraps a zerolog.Logger with the teacher's key-value call shape so
// call sites read the same way they did against the package-level teacher
// functions: logger.Error("message", "key", value, ...).
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger writing JSON lines to w at the given minimum level.
// DEBUG is auto-enabled when the DEBUG environment variable is "true",
// matching the teacher's init() behavior.
func New(w io.Writer, level Level) *Logger {
	if os.Getenv("DEBUG") == "true" {
		level = DEBUG
	}
	zl := zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// Default builds a Logger writing to stderr at INFO.
func Default() *Logger {
	return New(os.Stderr, INFO)
}

func (l *Logger) Debug(msg string, kv ...any) { l.log(l.zl.Debug(), msg, kv) }
func (l *Logger) Info(msg string, kv ...any)   { l.log(l.zl.Info(), msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)   { l.log(l.zl.Warn(), msg, kv) }
func (l *Logger) Error(msg string, kv ...any)  { l.log(l.zl.Error(), msg, kv) }

// InfoPersist and ErrorPersist log unconditionally at their named level,
// for events (panics) that must surface regardless of the configured
// minimum level — the teacher's InfoPersist/ErrorPersist, preserved because
// RecoverPanic relies on panic-recovery events always reaching the sink.
func (l *Logger) InfoPersist(msg string, kv ...any) {
	unfiltered := l.zl.Level(zerolog.DebugLevel)
	l.log(unfiltered.Info(), msg, kv)
}

func (l *Logger) ErrorPersist(msg string, kv ...any) {
	unfiltered := l.zl.Level(zerolog.DebugLevel)
	l.log(unfiltered.Error(), msg, kv)
}

func (l *Logger) log(event *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, kv[i+1])
	}
	event.Msg(msg)
}

// RecoverPanic recovers a panic in the calling goroutine's deferred call,
// logs it persistently, and invokes fallback if non-nil. Grounded on the
// teacher's RecoverPanic, used the same way: `defer logger.RecoverPanic(...)`
// at the top of a goroutine the engine spawns per request.
func (l *Logger) RecoverPanic(context string, fallback func()) {
	if r := recover(); r != nil {
		l.ErrorPersist("panic recovered", "context", context, "recover", r)
		if fallback != nil {
			fallback()
		}
	}
}
