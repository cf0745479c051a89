// Package logging builds the logrus logger shared by the command and the
// library packages.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

// Config selects the log level and destination.
type Config struct {
	Level string `yaml:"level"`
	// File sends logs to a rotating file instead of stderr.
	File    string `yaml:"file,omitempty"`
	MaxSize int    `yaml:"max_size,omitempty"` // megabytes
	MaxAge  int    `yaml:"max_age,omitempty"`  // days
	// Quiet drops informational messages from stderr.
	Quiet bool `yaml:"-"`
	// Stderr overrides os.Stderr, mostly for tests.
	Stderr io.Writer `yaml:"-"`
}

// DefaultLevel is used when Config.Level is empty.
const DefaultLevel = "info"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup returns a logger configured by c. The closer releases the log file,
// if any, and must be called before exit.
func Setup(c Config) (*logrus.Logger, io.Closer, error) {
	levelName := c.Level
	if levelName == "" {
		levelName = DefaultLevel
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	log := logrus.New()
	log.SetLevel(level)

	if c.File == "" {
		out := c.Stderr
		if out == nil {
			out = os.Stderr
		}
		if c.Quiet && level > logrus.WarnLevel {
			log.SetLevel(logrus.WarnLevel)
		}
		log.SetOutput(out)
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
		return log, nopCloser{}, nil
	}

	l := &lumberjack.Logger{
		Filename: c.File,
		MaxSize:  c.MaxSize,
		MaxAge:   c.MaxAge,
	}
	log.SetOutput(l)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	return log, l, nil
}
