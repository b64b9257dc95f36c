package config

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// ConfigureLogging applies lc to the standard logrus logger. The returned
// closer releases a log file when Output names one; it is never nil.
func ConfigureLogging(lc LogConfig) (io.Closer, error) {
	level := lc.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nopCloser{}, fmt.Errorf("config: log level: %w", err)
	}

	var out io.Writer
	var closer io.Closer = nopCloser{}
	switch lc.Output {
	case "", "stderr":
		out = os.Stderr
	case "stdout":
		out = os.Stdout
	default:
		f, err := os.OpenFile(lc.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nopCloser{}, fmt.Errorf("config: open log file: %w", err)
		}
		out, closer = f, f
	}

	logrus.SetLevel(lvl)
	logrus.SetOutput(out)
	if strings.EqualFold(lc.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	logrus.WithFields(logrus.Fields{
		"function": "ConfigureLogging",
		"level":    lvl.String(),
		"format":   lc.Format,
	}).Debug("Logging configured")

	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
