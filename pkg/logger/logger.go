package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aspirely/aspirely-cli/pkg/config"
	"github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

var logger *log.Logger

var (
	lastLogged   = make(map[string]time.Time)
	lastLoggedMu sync.Mutex
)

// Init initializes the logger. Output goes to the rotating file at log.file,
// or stderr when no file is configured.
func Init(verbose bool) {
	level := parseLevel(config.GetString("log.level"))
	if verbose {
		level = log.DebugLevel
	}

	var w io.Writer = os.Stderr
	if logFile := config.GetString("log.file"); logFile != "" {
		w = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
			Compress:   true,
		}
	}

	logger = log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          "aspirely",
	})
	logger.SetLevel(level)
}

// SetOutput replaces the logger with one writing to w at the given level.
func SetOutput(w io.Writer, level log.Level) {
	logger = log.New(w)
	logger.SetLevel(level)
}

func parseLevel(s string) log.Level {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Debug logs a debug message
func Debug(msg string, args ...interface{}) {
	if logger != nil {
		logger.Debug(msg, args...)
	}
}

// Info logs an info message
func Info(msg string, args ...interface{}) {
	if logger != nil {
		logger.Info(msg, args...)
	}
}

// Warn logs a warning message
func Warn(msg string, args ...interface{}) {
	if logger != nil {
		logger.Warn(msg, args...)
	}
}

// Error logs an error message
func Error(msg string, args ...interface{}) {
	if logger != nil {
		logger.Error(msg, args...)
	}
}

// Fatal logs a fatal message and exits
func Fatal(msg string, args ...interface{}) {
	if logger != nil {
		logger.Fatal(msg, args...)
	} else {
		os.Exit(1)
	}
}

// Every logs a debug message at most once per interval for the given key.
// It reports whether the message was written.
func Every(key string, interval time.Duration, msg string, args ...interface{}) bool {
	lastLoggedMu.Lock()
	now := time.Now()
	if last, ok := lastLogged[key]; ok && now.Sub(last) < interval {
		lastLoggedMu.Unlock()
		return false
	}
	lastLogged[key] = now
	lastLoggedMu.Unlock()

	Debug(msg, args...)
	return true
}

// GetLogger returns the logger instance
func GetLogger() *log.Logger {
	return logger
}
