// Package logging provides the logrus logger shared by every package in the service.
package logging

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ServiceName is attached to every log entry.
const ServiceName = "inquiry-notifier"

// Log is the base entry that packages derive their own loggers from.
var Log = logrus.WithFields(logrus.Fields{"service": ServiceName})

// ForPackage returns an entry tagged with the name of the calling package.
func ForPackage(name string) *logrus.Entry {
	return Log.WithField("package", name)
}

// SetupLogging configures the output format and level of the standard logrus logger.
func SetupLogging(level, format string) error {
	logrus.SetOutput(os.Stdout)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return errors.Errorf("unsupported log format: %s", format)
	}

	return SetLevel(level)
}

// SetLevel changes the level of the standard logrus logger. An empty level means info.
func SetLevel(level string) error {
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return errors.Wrap(err, "unable to set the log level")
	}
	logrus.SetLevel(parsed)
	return nil
}
