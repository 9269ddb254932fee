// Package logger configures logrus for the relay.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wricardo/mcp-training/pongrelay/game/config"
)

// New builds a logger from settings. With a log file set, output goes to
// stderr and to a rotating file.
func New(cfg config.LogSettings, debug bool) (*logrus.Logger, error) {
	log := logrus.New()
	if err := Configure(log, cfg, debug); err != nil {
		return nil, err
	}
	return log, nil
}

// Init applies settings to the standard logrus logger
func Init(cfg config.LogSettings, debug bool) error {
	return Configure(logrus.StandardLogger(), cfg, debug)
}

// Configure applies settings to log
func Configure(log *logrus.Logger, cfg config.LogSettings, debug bool) error {
	level := logrus.InfoLevel
	if cfg.Level != "" {
		parsed, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}
	if debug && level < logrus.DebugLevel {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("invalid log format %q", cfg.Format)
	}

	log.SetOutput(Output(cfg, os.Stderr))
	return nil
}

// Output returns w, teed into a rotating file when cfg.File is set
func Output(cfg config.LogSettings, w io.Writer) io.Writer {
	if cfg.File == "" {
		return w
	}
	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return io.MultiWriter(w, rotating)
}
