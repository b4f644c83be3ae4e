// Package logger provides the leveled logger used across wshbox. Every line
// carries a timestamp, the logger prefix, the level tag and the caller.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level
type Level int

const (
	// LevelError logs only errors
	LevelError Level = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs informational messages, warnings and errors
	LevelInfo
	// LevelVerbose logs the progress of every analysis stage
	LevelVerbose
	// LevelDebug logs everything, including rewritten source and emulator calls
	LevelDebug
)

var levelNames = map[Level]string{
	LevelError:   "ERROR",
	LevelWarn:    "WARN",
	LevelInfo:    "INFO",
	LevelVerbose: "VERBOSE",
	LevelDebug:   "DEBUG",
}

// String returns the tag printed for the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel converts a level name (case-insensitive) into a Level.
func ParseLevel(name string) (Level, error) {
	for level, tag := range levelNames {
		if strings.EqualFold(tag, name) {
			return level, nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Logger represents a leveled logger
type Logger struct {
	level      Level
	prefix     string
	mu         sync.RWMutex
	timeFormat string
	out        *log.Logger
}

var (
	// Default is the default logger instance
	Default   *Logger
	once      sync.Once
	defaultMu sync.Mutex
)

// Initialize sets up the default logger with the specified level
func Initialize(level Level) {
	once.Do(func() {
		defaultMu.Lock()
		Default = New("wshbox", level)
		defaultMu.Unlock()
	})
}

// Std returns the default logger. Before Initialize it returns an info
// level logger, which a later Initialize replaces.
func Std() *Logger {
	return std()
}

// New creates a new logger instance writing to stderr
func New(prefix string, level Level) *Logger {
	return &Logger{
		level:      level,
		prefix:     prefix,
		timeFormat: "2006-01-02 15:04:05.000",
		out:        log.New(os.Stderr, "", 0),
	}
}

// Writer returns the destination of the logger output
func (l *Logger) Writer() io.Writer {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.out.Writer()
}

// SetOutput redirects the logger output
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = log.New(w, "", 0)
}

// SetLevel changes the logging level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level
}

// Enabled reports whether messages at level would be written
func (l *Logger) Enabled(level Level) bool {
	return l.shouldLog(level)
}

// Error logs an error message (always shown)
func (l *Logger) Error(args ...interface{}) {
	l.log(LevelError, args...)
}

// Errorf logs a formatted error message (always shown)
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logf(LevelError, format, args...)
}

// Warn logs a warning
func (l *Logger) Warn(args ...interface{}) {
	l.log(LevelWarn, args...)
}

// Warnf logs a formatted warning
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.logf(LevelWarn, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(args ...interface{}) {
	l.log(LevelInfo, args...)
}

// Infof logs a formatted informational message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logf(LevelInfo, format, args...)
}

// Verbose logs a verbose message (only shown with -v flag)
func (l *Logger) Verbose(args ...interface{}) {
	l.log(LevelVerbose, args...)
}

// Verbosef logs a formatted verbose message (only shown with -v flag)
func (l *Logger) Verbosef(format string, args ...interface{}) {
	l.logf(LevelVerbose, format, args...)
}

// Debug logs a debug message (only shown with -debug flag)
func (l *Logger) Debug(args ...interface{}) {
	l.log(LevelDebug, args...)
}

// Debugf logs a formatted debug message (only shown with -debug flag)
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.logf(LevelDebug, format, args...)
}

func (l *Logger) log(level Level, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}
	l.write(level, fmt.Sprint(args...))
}

func (l *Logger) logf(level Level, format string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}
	l.write(level, fmt.Sprintf(format, args...))
}

func (l *Logger) write(level Level, message string) {
	caller := l.getCaller()
	timestamp := time.Now().Format(l.timeFormat)

	l.mu.RLock()
	out := l.out
	l.mu.RUnlock()

	out.Printf("[%s] [%s] [%s] %s: %s", timestamp, l.prefix, level, caller, message)
}

// shouldLog checks if a message should be logged based on current level
func (l *Logger) shouldLog(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level <= l.level
}

// getCaller returns the calling function's file and line number
func (l *Logger) getCaller() string {
	_, file, line, ok := runtime.Caller(4)
	if !ok {
		return "unknown:0"
	}

	parts := strings.Split(file, "/")
	filename := parts[len(parts)-1]

	return fmt.Sprintf("%s:%d", filename, line)
}

// Global convenience functions that use the default logger

func std() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if Default == nil {
		Default = New("wshbox", LevelInfo)
	}
	return Default
}

// Error logs an error using the default logger
func Error(args ...interface{}) { std().log(LevelError, args...) }

// Errorf logs a formatted error using the default logger
func Errorf(format string, args ...interface{}) { std().logf(LevelError, format, args...) }

// Warn logs a warning using the default logger
func Warn(args ...interface{}) { std().log(LevelWarn, args...) }

// Warnf logs a formatted warning using the default logger
func Warnf(format string, args ...interface{}) { std().logf(LevelWarn, format, args...) }

// Info logs an info message using the default logger
func Info(args ...interface{}) { std().log(LevelInfo, args...) }

// Infof logs a formatted info message using the default logger
func Infof(format string, args ...interface{}) { std().logf(LevelInfo, format, args...) }

// Verbose logs a verbose message using the default logger
func Verbose(args ...interface{}) { std().log(LevelVerbose, args...) }

// Verbosef logs a formatted verbose message using the default logger
func Verbosef(format string, args ...interface{}) { std().logf(LevelVerbose, format, args...) }

// Debug logs a debug message using the default logger
func Debug(args ...interface{}) { std().log(LevelDebug, args...) }

// Debugf logs a formatted debug message using the default logger
func Debugf(format string, args ...interface{}) { std().logf(LevelDebug, format, args...) }

// Fatal logs an error and exits the program
func Fatal(args ...interface{}) {
	std().log(LevelError, args...)
	os.Exit(1)
}

// Fatalf logs a formatted error and exits the program
func Fatalf(format string, args ...interface{}) {
	std().logf(LevelError, format, args...)
	os.Exit(1)
}
