// Package logging builds the structured logger shared by bolttrack components.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/zulandar/bolttrack/internal/config"
)

// New returns a logrus logger configured from cfg, writing to out
// (stdout when nil).
func New(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()
	if out == nil {
		out = os.Stdout
	}
	log.SetOutput(out)

	switch cfg.Format {
	case "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	log.SetLevel(lvl)
	return log, nil
}

// Discard returns an entry that drops everything. Used when a component is
// constructed without a logger.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

// Component returns an entry tagged with the component name.
func Component(log *logrus.Logger, name string) *logrus.Entry {
	if log == nil {
		return Discard().WithField("component", name)
	}
	return log.WithField("component", name)
}
