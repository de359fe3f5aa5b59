package cmd

import (
	"io"

	"github.com/charmbracelet/log"

	"github.com/GoCodeAlone/modwire"
)

// charmLogger adapts a charmbracelet logger to modwire.Logger.
type charmLogger struct {
	logger *log.Logger
}

var _ modwire.Logger = charmLogger{}

func newLogger(w io.Writer, prefix string, verbose bool) charmLogger {
	l := log.NewWithOptions(w, log.Options{
		Prefix:          prefix,
		ReportTimestamp: true,
		Level:           log.InfoLevel,
	})
	if verbose {
		l.SetLevel(log.DebugLevel)
	}
	return charmLogger{logger: l}
}

func (l charmLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l charmLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l charmLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l charmLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
