// Package logging configures the process-wide structured logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the global structured logger. Call Init once at process
// startup; packages elsewhere call logging.Logger or the With* helpers
// directly rather than threading a logger through every constructor.
var Logger = logrus.New()

func init() {
	Logger.SetOutput(os.Stdout)
	Logger.SetLevel(logrus.InfoLevel)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

// Init configures the global logger from LOG_LEVEL / LOG_FORMAT environment
// variables. Safe to call more than once.
func Init() {
	Logger.SetLevel(levelFromEnv())

	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		Logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		Logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	Logger.WithFields(logrus.Fields{
		"component": "logging",
		"event":     "logging.initialized",
		"level":     Logger.GetLevel().String(),
	}).Info("logger initialized")
}

// SetOutput redirects log output, primarily for tests.
func SetOutput(w io.Writer) {
	Logger.SetOutput(w)
}

func levelFromEnv() logrus.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// WithFields returns an entry pre-populated with the dispatcher's
// component/event field convention so call sites read as:
//
//	logging.WithFields("session", "session.dispatch", logrus.Fields{"device_id": id}).Info("dispatched command")
func WithFields(component, event string, extra logrus.Fields) *logrus.Entry {
	fields := logrus.Fields{
		"component": component,
		"event":     event,
	}
	for k, v := range extra {
		fields[k] = v
	}
	return Logger.WithFields(fields)
}
