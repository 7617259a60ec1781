package shared

import (
	"io"
	"os"

	"panic-button/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a logger writing to stdout and, when a path is configured,
// to a rotated log file. The returned function closes the file.
func NewLogger(component string, cfg config.LogConfig) (*logrus.Entry, func()) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(cfg.Level)

	if err != nil {
		level = logrus.InfoLevel
	}

	logger.SetLevel(level)

	closer := func() {}

	if cfg.Path != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
		}

		logger.SetOutput(io.MultiWriter(os.Stdout, file))
		closer = func() { file.Close() }
	} else {
		logger.SetOutput(os.Stdout)
	}

	entry := logger.WithField("component", component)

	if err != nil && cfg.Level != "" {
		entry.WithError(err).Warn("Unknown log level, falling back to info")
	}

	return entry, closer
}
