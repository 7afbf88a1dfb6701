package logging

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/DeRuina/timberjack"
	"github.com/sirupsen/logrus"
)

// Settings mirrors the log section of the configuration file.
type Settings struct {
	Level      string
	Format     string
	File       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	// Output defaults to stderr so command output on stdout stays clean.
	Output io.Writer
}

// NewLogger builds a logrus logger with source locations and optional file
// rotation.
func NewLogger(cfg Settings) (*logrus.Logger, error) {
	logger := logrus.New()

	level := logrus.InfoLevel
	if name := strings.TrimSpace(cfg.Level); name != "" {
		parsed, err := logrus.ParseLevel(strings.ToLower(name))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	logger.SetLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.File != "" {
		output = io.MultiWriter(output, &timberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		})
	}
	logger.SetOutput(output)

	var underlying logrus.Formatter
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "", "text":
		underlying = &logrus.TextFormatter{
			FullTimestamp: true,
			CallerPrettyfier: func(*runtime.Frame) (string, string) {
				return "", ""
			},
		}
	case "json":
		underlying = &logrus.JSONFormatter{
			CallerPrettyfier: func(*runtime.Frame) (string, string) {
				return "", ""
			},
		}
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}

	logger.SetFormatter(&SourceFormatter{Underlying: underlying})
	logger.SetReportCaller(true)

	if cfg.File != "" {
		logger.WithField("file", cfg.File).Debug("file logging enabled")
	}
	return logger, nil
}
