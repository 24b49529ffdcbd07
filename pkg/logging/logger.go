package logging

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/fatih/color"

	"github.com/xanados/searchdestroy-core/pkg/build"
)

// writer is an io.Writer that splits its input stream into lines and writes
// those lines to an underlying logger.
type writer struct {
	// callback is the logging callback.
	callback func(string)
	// buffer is any incomplete line fragment left over from a previous write.
	buffer []byte
}

// trimCarriageReturn trims any single trailing carriage return from the end of
// a byte slice.
func trimCarriageReturn(buffer []byte) []byte {
	if len(buffer) > 0 && buffer[len(buffer)-1] == '\r' {
		return buffer[:len(buffer)-1]
	}
	return buffer
}

// Write implements io.Writer.Write.
func (w *writer) Write(buffer []byte) (int, error) {
	w.buffer = append(w.buffer, buffer...)

	var processed int
	remaining := w.buffer
	for {
		index := bytes.IndexByte(remaining, '\n')
		if index == -1 {
			break
		}
		w.callback(string(trimCarriageReturn(remaining[:index])))
		processed += index + 1
		remaining = remaining[index+1:]
	}

	if processed > 0 {
		leftover := len(w.buffer) - processed
		if leftover > 0 {
			copy(w.buffer[:leftover], w.buffer[processed:])
		}
		w.buffer = w.buffer[:leftover]
	}

	return len(buffer), nil
}

// Logger is the main logger type. It has the novel property that it still
// functions if nil, but it doesn't log anything. Every sublogger shares the
// same underlying level and destination as its root, set once at creation.
// It is safe for concurrent usage.
type Logger struct {
	// prefix is any prefix specified for the logger.
	prefix string
	// shared holds the state common to a logger and all of its subloggers.
	shared *shared
}

// shared holds the level, destination, and standard logger shared by a
// Logger tree.
type shared struct {
	level Level
	std   *log.Logger
	mutex sync.Mutex
}

// NewLogger creates a new root logger that writes lines at or below the
// specified level to destination.
func NewLogger(level Level, destination io.Writer) *Logger {
	return &Logger{
		shared: &shared{
			level: level,
			std:   log.New(destination, "", log.LstdFlags),
		},
	}
}

// Sublogger creates a new sublogger with the specified name. Sublogger
// returns nil if the receiver is nil, so chains of Sublogger calls on a nil
// root are themselves safe no-ops.
func (l *Logger) Sublogger(name string) *Logger {
	if l == nil {
		return nil
	}
	prefix := name
	if l.prefix != "" {
		prefix = l.prefix + "." + name
	}
	return &Logger{prefix: prefix, shared: l.shared}
}

// enabled reports whether the logger should emit at the specified level.
func (l *Logger) enabled(level Level) bool {
	return l != nil && l.shared.level >= level
}

func (l *Logger) output(level Level, line string) {
	if !l.enabled(level) {
		return
	}
	if l.prefix != "" {
		line = fmt.Sprintf("[%s] %s", l.prefix, line)
	}
	l.shared.mutex.Lock()
	l.shared.std.Output(4, line)
	l.shared.mutex.Unlock()
}

// Errorf logs a formatted error-level message.
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.output(LevelError, color.RedString(format, v...))
}

// Warnf logs a formatted warning-level message.
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.output(LevelWarn, color.YellowString(format, v...))
}

// Infof logs a formatted info-level message.
func (l *Logger) Infof(format string, v ...interface{}) {
	l.output(LevelInfo, fmt.Sprintf(format, v...))
}

// Debugf logs a formatted debug-level message. It is also gated on
// build.DebugEnabled so that debug logging requires an explicit opt-in even
// when a logger's level would otherwise allow it.
func (l *Logger) Debugf(format string, v ...interface{}) {
	if !build.DebugEnabled {
		return
	}
	l.output(LevelDebug, fmt.Sprintf(format, v...))
}

// Tracef logs a formatted trace-level message.
func (l *Logger) Tracef(format string, v ...interface{}) {
	l.output(LevelTrace, fmt.Sprintf(format, v...))
}

// Warn logs error information with a warning prefix and yellow color.
func (l *Logger) Warn(err error) {
	l.output(LevelWarn, color.YellowString("Warning: %v", err))
}

// Error logs error information with an error prefix and red color.
func (l *Logger) Error(err error) {
	l.output(LevelError, color.RedString("Error: %v", err))
}

// Writer returns an io.Writer that writes lines at info level.
func (l *Logger) Writer() io.Writer {
	if l == nil {
		return io.Discard
	}
	return &writer{callback: func(s string) { l.output(LevelInfo, s) }}
}

// DebugWriter returns an io.Writer that writes lines at debug level.
func (l *Logger) DebugWriter() io.Writer {
	if l == nil {
		return io.Discard
	}
	return &writer{callback: func(s string) { l.Debugf("%s", s) }}
}
