package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// LogLevel represents the severity of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levels = [...]struct {
	name string
	slog slog.Level
}{
	DebugLevel: {"DEBUG", slog.LevelDebug},
	InfoLevel:  {"INFO", slog.LevelInfo},
	WarnLevel:  {"WARN", slog.LevelWarn},
	ErrorLevel: {"ERROR", slog.LevelError},
}

// valid maps unknown levels to InfoLevel
func (l LogLevel) valid() LogLevel {
	if l < DebugLevel || l > ErrorLevel {
		return InfoLevel
	}
	return l
}

func (l LogLevel) String() string {
	return levels[l.valid()].name
}

// Logger writes JSON lines through slog. Derived loggers share the handler.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a logger writing to output, stdout when nil
func NewLogger(level LogLevel, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}
	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{Level: levels[level.valid()].slog})
	return &Logger{logger: slog.New(handler)}
}

// NewNopLogger returns a logger that discards everything
func NewNopLogger() *Logger {
	return NewLogger(ErrorLevel, io.Discard)
}

// WithField adds a field to the logger context
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{logger: l.logger.With(key, value)}
}

// WithFields adds multiple fields to the logger context
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{logger: l.logger.With(args...)}
}

// WithError adds an error to the logger context
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

// Debug logs a debug message
func (l *Logger) Debug(message string) { l.logger.Debug(message) }

// Info logs an info message
func (l *Logger) Info(message string) { l.logger.Info(message) }

// Warn logs a warning message
func (l *Logger) Warn(message string) { l.logger.Warn(message) }

// Error logs an error message
func (l *Logger) Error(message string) { l.logger.Error(message) }

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

type taskContextKey struct{}

type taskInfo struct {
	id   string
	name string
}

// WithTask records the task being executed on the context
func WithTask(ctx context.Context, id, name string) context.Context {
	return context.WithValue(ctx, taskContextKey{}, taskInfo{id: id, name: name})
}

// GetTaskID returns the id of the task running under ctx, or ""
func GetTaskID(ctx context.Context) string {
	info, _ := ctx.Value(taskContextKey{}).(taskInfo)
	return info.id
}

// ForTask adds the task_id and task_name of the task running under ctx to
// base. Outside a task base is returned unchanged.
func ForTask(ctx context.Context, base *Logger) *Logger {
	info, ok := ctx.Value(taskContextKey{}).(taskInfo)
	if !ok {
		return base
	}
	return base.WithFields(map[string]interface{}{
		"task_id":   info.id,
		"task_name": info.name,
	})
}
