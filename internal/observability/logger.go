// Package observability defines shared logging and metrics primitives.
package observability

import (
	"fmt"
	"log"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F builds a log field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

var defaultLogger Logger = noopLogger{}

// SetLogger overrides the global logger used by the system.
func SetLogger(logger Logger) {
	if logger == nil {
		defaultLogger = noopLogger{}
		return
	}
	defaultLogger = logger
}

// Log returns the current global logger instance.
func Log() Logger {
	return defaultLogger
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...Field) {}
func (noopLogger) Info(string, ...Field)  {}
func (noopLogger) Error(string, ...Field) {}

// StdLogger adapts the standard library logger to the Logger interface.
type StdLogger struct {
	Verbose bool
}

// Debug logs at debug level when verbose logging is enabled.
func (l StdLogger) Debug(msg string, fields ...Field) {
	if l.Verbose {
		log.Printf("DEBUG %s%s", msg, formatFields(fields))
	}
}

// Info logs an informational line.
func (l StdLogger) Info(msg string, fields ...Field) {
	log.Printf("INFO  %s%s", msg, formatFields(fields))
}

// Error logs an error line.
func (l StdLogger) Error(msg string, fields ...Field) {
	log.Printf("ERROR %s%s", msg, formatFields(fields))
}

func formatFields(fields []Field) string {
	if len(fields) == 0 {
		return ""
	}
	out := ""
	for _, f := range fields {
		out += " "
		out += f.Key
		out += "="
		switch v := f.Value.(type) {
		case string:
			out += v
		case error:
			out += v.Error()
		default:
			out += fmt.Sprintf("%v", v)
		}
	}
	return out
}
