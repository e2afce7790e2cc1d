// Package logging provides the component loggers shared by every gitshelf
// package. All loggers write through one logrus instance, so Configure
// affects loggers created before it was called.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/1broseidon/gitshelf/internal/config"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(textFormatter(isTerminal(os.Stderr)))
	return l
}

// NewLogger returns a logger tagged with the given component name.
func NewLogger(component string) *logrus.Entry {
	return base.WithField("component", component)
}

// Base exposes the shared logger, mainly so tests can attach hooks.
func Base() *logrus.Logger {
	return base
}

// Configure applies level, format and sinks. The returned closer releases
// the log file, if one was opened; it is never nil.
func Configure(cfg config.LoggingConfig) (io.Closer, error) {
	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	var closer io.Closer = nopCloser{}
	out := io.Writer(os.Stderr)
	color := isTerminal(os.Stderr)
	if cfg.File != "" {
		rf, err := OpenRotatingFile(cfg.File, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return closer, err
		}
		closer = rf
		out = io.MultiWriter(os.Stderr, rf)
		color = false
	}
	base.SetOutput(out)

	switch cfg.Format {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		base.SetFormatter(textFormatter(color))
	}
	return closer, nil
}

func textFormatter(color bool) logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:    true,
		TimestampFormat:  "2006-01-02 15:04:05",
		ForceColors:      color,
		DisableColors:    !color,
		QuoteEmptyFields: true,
	}
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
