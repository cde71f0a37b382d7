package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
	SILENT // No logging
)

var (
	levelNames = map[LogLevel]string{
		DEBUG:  "DEBUG",
		INFO:   "INFO",
		WARN:   "WARN",
		ERROR:  "ERROR",
		SILENT: "SILENT",
	}

	levelColors = map[slog.Level]string{
		slog.LevelDebug: "\033[36m", // Cyan
		slog.LevelInfo:  "\033[32m", // Green
		slog.LevelWarn:  "\033[33m", // Yellow
		slog.LevelError: "\033[31m", // Red
	}

	resetColor = "\033[0m"
)

// slogLevel above every real level silences the handler.
const silentLevel = slog.Level(64)

func (l LogLevel) slog() slog.Level {
	switch l {
	case DEBUG:
		return slog.LevelDebug
	case INFO:
		return slog.LevelInfo
	case WARN:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return silentLevel
	}
}

// Logger provides leveled logging with a module attribute on every record.
type Logger struct {
	level *slog.LevelVar
	base  *slog.Logger

	mu      sync.Mutex
	modules map[string]*slog.Logger
}

var defaultLogger *Logger
var once sync.Once

// Init initializes the global logger (call once at startup)
func Init(level LogLevel, output io.Writer, useColor bool) {
	once.Do(func() {
		defaultLogger = New(level, output, useColor)
	})
}

// New creates a new Logger writing slog text records to output.
func New(level LogLevel, output io.Writer, useColor bool) *Logger {
	if output == nil {
		output = os.Stderr
	}

	lv := new(slog.LevelVar)
	lv.Set(level.slog())

	opts := &slog.HandlerOptions{Level: lv}
	if useColor {
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					if c, ok := levelColors[lvl]; ok {
						a.Value = slog.StringValue(c + lvl.String() + resetColor)
					}
				}
			}
			return a
		}
	}

	return &Logger{
		level:   lv,
		base:    slog.New(slog.NewTextHandler(output, opts)),
		modules: make(map[string]*slog.Logger),
	}
}

// SetLevel changes the log level
func (l *Logger) SetLevel(level LogLevel) {
	l.level.Set(level.slog())
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() LogLevel {
	switch l.level.Level() {
	case slog.LevelDebug:
		return DEBUG
	case slog.LevelInfo:
		return INFO
	case slog.LevelWarn:
		return WARN
	case slog.LevelError:
		return ERROR
	default:
		return SILENT
	}
}

// Module returns the slog.Logger tagged with module, for callers that want
// structured attributes instead of printf formatting.
func (l *Logger) Module(module string) *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lg, ok := l.modules[module]; ok {
		return lg
	}
	lg := l.base
	if module != "" {
		lg = l.base.With(slog.String("module", module))
	}
	l.modules[module] = lg
	return lg
}

func (l *Logger) log(level LogLevel, module string, format string, args ...interface{}) {
	lvl := level.slog()
	lg := l.Module(module)
	if !lg.Enabled(context.Background(), lvl) {
		return
	}
	lg.Log(context.Background(), lvl, fmt.Sprintf(format, args...))
}

// Debug logs a debug message
func (l *Logger) Debug(module string, format string, args ...interface{}) {
	l.log(DEBUG, module, format, args...)
}

// Info logs an info message
func (l *Logger) Info(module string, format string, args ...interface{}) {
	l.log(INFO, module, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(module string, format string, args ...interface{}) {
	l.log(WARN, module, format, args...)
}

// Error logs an error message
func (l *Logger) Error(module string, format string, args ...interface{}) {
	l.log(ERROR, module, format, args...)
}

// Global logger functions (use default logger)

// SetLevel sets the global log level
func SetLevel(level LogLevel) {
	if defaultLogger != nil {
		defaultLogger.SetLevel(level)
	}
}

// GetLevel returns the global log level
func GetLevel() LogLevel {
	if defaultLogger != nil {
		return defaultLogger.GetLevel()
	}
	return INFO
}

// Debug logs a debug message using the global logger
func Debug(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debug(module, format, args...)
	}
}

// Info logs an info message using the global logger
func Info(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Info(module, format, args...)
	}
}

// Warn logs a warning message using the global logger
func Warn(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warn(module, format, args...)
	}
}

// Error logs an error message using the global logger
func Error(module string, format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Error(module, format, args...)
	}
}

// ParseLevel parses a log level string
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG, nil
	case "info":
		return INFO, nil
	case "warn", "warning":
		return WARN, nil
	case "error":
		return ERROR, nil
	case "silent", "none":
		return SILENT, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// String returns the string representation of a log level
func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}
