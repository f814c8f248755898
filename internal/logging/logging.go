// Package logging configures the logrus logger used by the sockctl command,
// with optional rotation of a log file.
package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options selects level, format and the optional rotated log file.
type Options struct {
	// Level is one of trace, debug, info, warn, error
	Level string

	// JSON switches the formatter from text to JSON
	JSON bool

	// File is the log file path; empty logs to stderr only
	File string

	// MaxSize is the maximum size of the log file in megabytes
	MaxSize int

	// MaxBackups is the maximum number of old log files to retain
	MaxBackups int

	// MaxAge is the maximum number of days to retain old log files
	MaxAge int
}

// New builds a logger from opts. The returned io.Closer releases the log
// file, if any, and is never nil.
func New(opts Options) (*logrus.Logger, io.Closer, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetOutput(os.Stderr)
	if opts.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.File == "" {
		return l, nopCloser{}, nil
	}

	rotate, err := rotatingFile(opts)
	if err != nil {
		return nil, nil, err
	}
	l.SetOutput(io.MultiWriter(os.Stderr, rotate))
	return l, rotate, nil
}

// ParseLevel maps a level name to a logrus level. Empty means info.
func ParseLevel(name string) (logrus.Level, error) {
	if name == "" {
		return logrus.InfoLevel, nil
	}
	level, err := logrus.ParseLevel(name)
	if err != nil {
		return 0, oops.
			Code("INVALID_LOG_LEVEL").
			In("logging").
			With("level", name).
			Wrapf(err, "invalid log level")
	}
	return level, nil
}

// rotatingFile creates the log directory and the lumberjack writer.
func rotatingFile(opts Options) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, oops.
			Code("LOG_DIR_FAILED").
			In("logging").
			With("file", opts.File).
			Wrapf(err, "failed to create log directory")
	}

	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSize,    // megabytes
		MaxBackups: opts.MaxBackups, // number of backups
		MaxAge:     opts.MaxAge,     // days
		Compress:   true,
	}, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
