package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"
)

type LogLevel int32

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

// stdout carries the MCP protocol, so everything goes to stderr
var (
	defaultLogger = log.New(os.Stderr, "", log.LstdFlags)
	minLevel      atomic.Int32
)

func init() {
	minLevel.Store(int32(INFO))
}

func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

func SetFlags(flag int) {
	defaultLogger.SetFlags(flag)
}

// SetLevel drops every message below level.
func SetLevel(level LogLevel) {
	minLevel.Store(int32(level))
}

func Level() LogLevel {
	return LogLevel(minLevel.Load())
}

// ParseLevel accepts debug, info, warn/warning, error and fatal (case-insensitive).
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return DEBUG, nil
	case "", "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "fatal":
		return FATAL, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	case FATAL:
		return "FATAL"
	}
	return "UNKNOWN"
}

func formatMessage(level LogLevel, format string, args ...interface{}) string {
	msg := fmt.Sprintf(format, args...)
	return fmt.Sprintf("[%s] [ANDROID-SSH] %s", level, msg)
}

func enabled(level LogLevel) bool {
	return level >= Level()
}

func Debug(format string, args ...interface{}) {
	if enabled(DEBUG) {
		defaultLogger.Println(formatMessage(DEBUG, format, args...))
	}
}

func Info(format string, args ...interface{}) {
	if enabled(INFO) {
		defaultLogger.Println(formatMessage(INFO, format, args...))
	}
}

func Warn(format string, args ...interface{}) {
	if enabled(WARN) {
		defaultLogger.Println(formatMessage(WARN, format, args...))
	}
}

func Error(format string, args ...interface{}) {
	if enabled(ERROR) {
		defaultLogger.Println(formatMessage(ERROR, format, args...))
	}
}

func Fatal(format string, args ...interface{}) {
	defaultLogger.Fatal(formatMessage(FATAL, format, args...))
}

func Printf(format string, args ...interface{}) {
	defaultLogger.Printf(format, args...)
}

func Println(args ...interface{}) {
	defaultLogger.Println(args...)
}

// Sanitize removes newlines and control characters from user-provided strings
// so they cannot forge extra log lines.
func Sanitize(s string) string {
	s = strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
