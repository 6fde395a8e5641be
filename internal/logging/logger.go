// Package logging configures the shared logrus logger: a rotated file sink
// under ./log/, mirrored to stdout, plus Gin request-logging and panic
// recovery middleware.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures NewLogger.
type Options struct {
	// Dir is the directory rotated log files are written under. Defaults
	// to "./log".
	Dir string
	// Level is the logrus level name ("debug", "info", "warn", "error").
	// Defaults to "info".
	Level string
	// Quiet suppresses the stdout mirror, keeping only the file sink.
	Quiet bool
}

// NewLogger builds a base *logrus.Logger writing to both stdout and a
// lumberjack-rotated file at <dir>/<unix-timestamp>.log.
func NewLogger(opts Options) (*logrus.Logger, error) {
	dir := opts.Dir
	if dir == "" {
		dir = "./log"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	fileSink := &lumberjack.Logger{
		Filename:   filepath.Join(dir, fmt.Sprintf("%d.log", time.Now().UnixNano())),
		MaxSize:    50, // megabytes
		MaxBackups: 10,
		MaxAge:     28, // days
		Compress:   true,
	}

	var out io.Writer = fileSink
	if !opts.Quiet {
		out = io.MultiWriter(os.Stdout, fileSink)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(parseLevel(opts.Level))
	return logger, nil
}

func parseLevel(name string) logrus.Level {
	if name == "" {
		return logrus.InfoLevel
	}
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}
