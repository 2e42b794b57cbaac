package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevel orders messages by severity; lines below the logger's level are dropped.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (l LogLevel) String() string {
	if l < DEBUG || l > FATAL {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a level name such as "debug" or "WARN" to a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	case "FATAL":
		return FATAL, nil
	}
	return INFO, fmt.Errorf("unknown log level %q", s)
}

// Logger writes leveled lines to the console and, optionally, a daily log file.
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	out      *log.Logger
	file     *os.File
	filePath string
	exit     func(int)
}

// New creates a logger that writes to console. When logDir is non-empty every
// line is also appended to logDir/rfid-bridge-YYYY-MM-DD.log.
func New(level LogLevel, logDir string, console io.Writer) (*Logger, error) {
	if console == nil {
		console = os.Stdout
	}

	l := &Logger{level: level, exit: os.Exit}
	w := console

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		logFileName := fmt.Sprintf("rfid-bridge-%s.log", time.Now().Format("2006-01-02"))
		l.filePath = filepath.Join(logDir, logFileName)

		f, err := os.OpenFile(l.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.file = f
		w = io.MultiWriter(console, f)
	}

	l.out = log.New(w, "", 0)
	return l, nil
}

// log formats and writes a log message. A nil *Logger discards everything.
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	l.out.Printf("[%s] %s: %s", timestamp, level.String(), message)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(DEBUG, format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.log(INFO, format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(WARN, format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.log(ERROR, format, args...)
}

// Fatal logs at FATAL, closes the log file and exits with status 1.
func (l *Logger) Fatal(format string, args ...interface{}) {
	l.log(FATAL, format, args...)
	l.Close()
	l.exit(1)
}

// GetLogFilePath returns the current log file path, empty when logging to console only.
func (l *Logger) GetLogFilePath() string {
	return l.filePath
}

// SetLevel changes the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	l.level = level
	l.mu.Unlock()
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

var defaultLogger *Logger

// Init installs a console logger (plus a file in logDir, if set) as the default.
func Init(level LogLevel, logDir string) error {
	l, err := New(level, logDir, os.Stdout)
	if err != nil {
		return err
	}
	defaultLogger = l
	return nil
}

func SetDefault(l *Logger) { defaultLogger = l }

func GetDefaultLogger() *Logger { return defaultLogger }

// Package-level helpers log through the default logger and are no-ops until
// one is installed.

func Debug(format string, args ...interface{}) { defaultLogger.Debug(format, args...) }

func Info(format string, args ...interface{}) { defaultLogger.Info(format, args...) }

func Warn(format string, args ...interface{}) { defaultLogger.Warn(format, args...) }

func Error(format string, args ...interface{}) { defaultLogger.Error(format, args...) }

func Fatal(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Fatal(format, args...)
	}
}
