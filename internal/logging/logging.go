// Package logging builds the logrus logger shared by every ptload component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Level  string    // logrus level name; empty means info
	Format string    // "text" or "json"; empty means text
	Output io.Writer // defaults to os.Stderr
}

// New returns a dedicated logger rather than configuring the logrus
// package-level one, so tests can build independent loggers.
func New(opts Options) (*logrus.Logger, error) {
	logger := logrus.New()

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	default:
		return nil, fmt.Errorf("unsupported log format %q: use text or json", opts.Format)
	}

	levelStr := strings.TrimSpace(opts.Level)
	if levelStr == "" {
		levelStr = "info"
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", levelStr, err)
	}
	logger.SetLevel(level)
	return logger, nil
}

// Component returns an entry tagged with the emitting component.
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	return logger.WithField("component", name)
}
