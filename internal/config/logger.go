package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the structured logger threaded through the pipeline, manifest
// and retention layers. It wraps logrus rather than ad hoc fmt.Fprintf
// calls, matching the ambient logging stack the rest of the example pack
// carries even though spec.md's distilled surface never mentions logging.
type Logger struct {
	*logrus.Logger
}

// NewLogger builds a text-formatted logger writing to stderr at the given
// level ("debug", "info", "warn", "error"; unrecognized values fall back to
// "info").
func NewLogger(level string) *Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &Logger{Logger: l}
}

// WarnPackage logs a worker-local failure the way spec.md §7 mandates: the
// package is dropped and the pipeline continues, but the operator is told
// which RPM and why.
func (l *Logger) WarnPackage(path string, err error) {
	l.WithFields(logrus.Fields{"package": path}).Warnf("skipping package: %v", err)
}
