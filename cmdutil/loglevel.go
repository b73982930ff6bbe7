// Package cmdutil holds the small pieces of CLI plumbing shared by
// predictcn and regiontest: both expose a `-l/--loglevel` flag (spec.md
// §6) gating github.com/grailbio/base/log output, which the teacher's
// own log package has no documented runtime verbosity setter for
// (see DESIGN.md's Open Question resolutions).
package cmdutil

import (
	"strings"

	"github.com/grailbio/base/log"
)

// Level is a coarse verbosity gate layered in front of
// github.com/grailbio/base/log's fixed Debug/Info/Error sinks.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a --loglevel value to a Level, defaulting to
// LevelInfo for an unrecognized string.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var current = LevelInfo

// SetLevel installs lvl as the process-wide gate consulted by Debugf
// and Infof.
func SetLevel(lvl Level) { current = lvl }

// Debugf logs at debug level through log.Debug, suppressed unless the
// configured level is LevelDebug.
func Debugf(format string, args ...interface{}) {
	if current <= LevelDebug {
		log.Debug.Printf(format, args...)
	}
}

// Infof logs at info level through log.Info, suppressed once the
// configured level is above LevelInfo.
func Infof(format string, args ...interface{}) {
	if current <= LevelInfo {
		log.Info.Printf(format, args...)
	}
}
