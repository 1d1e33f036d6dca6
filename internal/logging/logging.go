// Package logging builds the process-wide structured logger. Every
// component receives the same *logrus.Logger and tags its own lines
// with logrus.Fields (component, subscriber, facility, gufi) rather
// than the free-text line prefixes the teacher repo used.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds the process logger. level is parsed with logrus.ParseLevel;
// an unrecognized value falls back to info.
func New(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}

// For returns a child entry tagged with the given component name, the
// unit every other call site builds its own fields on top of.
func For(log *logrus.Logger, component string) *logrus.Entry {
	return log.WithField("component", component)
}
