// Package logging provides the structured logger used across the harness.
package logging

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// Logger is a wrapper around log.Logger from the charmbracelet/log package.
type Logger struct {
	*log.Logger
}

// New creates a logger writing to w. Setting DEBUG=1 in the environment
// enables debug level with caller and timestamp reporting.
func New(w io.Writer) *Logger {
	var base *log.Logger
	if os.Getenv("DEBUG") == "1" {
		base = log.NewWithOptions(w, log.Options{
			ReportCaller:    true,
			ReportTimestamp: true,
			Prefix:          "pgbox",
		})
		base.SetLevel(log.DebugLevel)
	} else {
		base = log.New(w)
		base.SetLevel(log.InfoLevel)
	}
	return &Logger{Logger: base}
}

// Default returns a logger writing to stderr.
func Default() *Logger {
	return New(os.Stderr)
}

// WithRun returns a logger carrying the run id field.
func (l *Logger) WithRun(runID string) *Logger {
	return &Logger{Logger: l.Logger.With("run", runID)}
}
