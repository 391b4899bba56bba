package common

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

func getLogger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          "oxy-visibility",
		})
		logger.SetLevel(log.InfoLevel)
	})
	return logger
}

// SetLogLevel changes the minimum level emitted by the package logger.
//
// Parameters:
//   - level: the new minimum level
func SetLogLevel(level log.Level) {
	getLogger().SetLevel(level)
}

// SetLogOutput redirects the package logger, e.g. to io.Discard in tests.
//
// Parameters:
//   - w: the destination writer
func SetLogOutput(w io.Writer) {
	getLogger().SetOutput(w)
}

// Logger returns the shared logger for packages that want structured key/value output.
func Logger() *log.Logger {
	return getLogger()
}

func LogDebug(msg string, args ...any) {
	getLogger().Debugf(msg, args...)
}

func LogInfo(msg string, args ...any) {
	getLogger().Infof(msg, args...)
}

func LogWarn(msg string, args ...any) {
	getLogger().Warnf(msg, args...)
}

func LogError(msg string, args ...any) {
	getLogger().Errorf(msg, args...)
}
