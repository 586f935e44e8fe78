package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/YoshitsuguKoike/asw/internal/app"
)

// LogLevel represents the severity of a log message
type LogLevel int32

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

var levelNames = map[LogLevel]string{
	LogLevelDebug: "DEBUG",
	LogLevelInfo:  "INFO",
	LogLevelWarn:  "WARN",
	LogLevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int32(l))
}

// ParseLogLevel converts a level name, rejecting unknown values
func ParseLogLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return LogLevelDebug, nil
	case "info":
		return LogLevelInfo, nil
	case "warn", "warning":
		return LogLevelWarn, nil
	case "error", "fatal":
		return LogLevelError, nil
	}
	return LogLevelWarn, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", level)
}

// LogLevelFromString is ParseLogLevel with WARN for anything unknown
func LogLevelFromString(level string) LogLevel {
	l, _ := ParseLogLevel(level)
	return l
}

// Logger writes "LEVEL: message" lines to stderr. Phases log from several
// goroutines (lock keepalives, agent calls), so writes are serialised.
// It implements app.Logger.
type Logger struct {
	minLevel atomic.Int32
	mu       sync.Mutex
	output   io.Writer
}

var _ app.Logger = (*Logger)(nil)

// NewLogger creates a new logger with the specified minimum level
func NewLogger(minLevel LogLevel, output io.Writer) *Logger {
	l := &Logger{output: output}
	l.minLevel.Store(int32(minLevel))
	return l
}

// SetLevel changes the minimum log level
func (l *Logger) SetLevel(level LogLevel) {
	l.minLevel.Store(int32(level))
}

// GetLevel returns the current minimum log level
func (l *Logger) GetLevel() LogLevel {
	return LogLevel(l.minLevel.Load())
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(LogLevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(LogLevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(LogLevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(LogLevelError, format, args...) }

func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if level < l.GetLevel() {
		return
	}
	line := level.String() + ": " + strings.TrimRight(fmt.Sprintf(format, args...), "\n") + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.output, line)
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(level string) {
	if level == "" {
		level = "warn"
	}
	globalLogger = NewLogger(LogLevelFromString(level), os.Stderr)
}

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	if globalLogger == nil {
		InitGlobalLogger("warn")
	}
	return globalLogger
}
