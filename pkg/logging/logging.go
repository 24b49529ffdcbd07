// Package logging provides a small, nil-safe leveled logger used throughout
// the scanning core so that every component can log without needing to
// check whether logging is configured.
package logging

import (
	"os"

	"github.com/mattn/go-isatty"
)

// RootLogger is the default root logger, writing info-and-above messages to
// standard error. Components that need a different level or destination
// (tests, the daemon with a log file) construct their own root via NewLogger.
var RootLogger = NewLogger(LevelInfo, os.Stderr)

// ColorOutputEnabled reports whether the given file descriptor is attached to
// a terminal capable of interpreting ANSI color codes, for callers that
// write colorized output outside of the Logger type and need to decide
// whether to enable fatih/color. Nothing in this module calls it.
func ColorOutputEnabled(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
