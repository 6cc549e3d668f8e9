package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger is a leveled logger writing through a standard library *log.Logger.
type Logger struct {
	level LogLevel
	out   *log.Logger
	mu    sync.RWMutex
}

// New creates a Logger with the given level that writes to stdout.
func New(level string) *Logger {
	return &Logger{
		level: ParseLogLevel(level),
		out:   log.New(os.Stdout, "[M3U-CATALOG] ", log.LstdFlags),
	}
}

func getDefaultLogger() *Logger {
	once.Do(func() {
		defaultLogger = New("INFO")
	})
	return defaultLogger
}

// ParseLogLevel converts a string to a LogLevel, defaulting to INFO.
func ParseLogLevel(level string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// SetLogLevel sets the level of the package-level logger.
func SetLogLevel(level string) {
	getDefaultLogger().SetLevel(level)
}

// GetLogLevel returns the level of the package-level logger.
func GetLogLevel() string {
	return getDefaultLogger().GetLevel()
}

// SetOutput redirects the package-level logger, mostly for tests.
func SetOutput(w io.Writer) {
	getDefaultLogger().SetOutput(w)
}

func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = ParseLogLevel(level)
}

func (l *Logger) GetLevel() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.level.String()
}

func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.SetOutput(w)
}

func (l *Logger) enabled(level LogLevel) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return level >= l.level
}

func (l *Logger) write(level LogLevel, format string, v ...interface{}) {
	if !l.enabled(level) {
		return
	}
	message := fmt.Sprintf(format, v...)
	l.out.Printf("[%s] %s", level, message)
}

func (l *Logger) Debug(format string, v ...interface{}) { l.write(DEBUG, format, v...) }
func (l *Logger) Info(format string, v ...interface{})  { l.write(INFO, format, v...) }
func (l *Logger) Warn(format string, v ...interface{})  { l.write(WARN, format, v...) }
func (l *Logger) Error(format string, v ...interface{}) { l.write(ERROR, format, v...) }

// Package-level functions (for direct use like logger.Info())

func Debug(format string, v ...interface{}) { getDefaultLogger().Debug(format, v...) }
func Info(format string, v ...interface{})  { getDefaultLogger().Info(format, v...) }
func Warn(format string, v ...interface{})  { getDefaultLogger().Warn(format, v...) }
func Error(format string, v ...interface{}) { getDefaultLogger().Error(format, v...) }
