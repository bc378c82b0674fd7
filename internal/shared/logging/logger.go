// Package logging holds the printf-style logger contract shared by every
// relay component and the helpers that keep nil loggers harmless.
package logging

import (
	"reflect"

	"relay/internal/shared/utils"
)

// Logger is satisfied by *utils.Logger and by test doubles.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Nop returns a logger that drops every line.
func Nop() Logger { return discard{} }

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}

// IsNil reports whether logger is nil, including a typed nil pointer stored
// in the interface.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	v := reflect.ValueOf(logger)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// OrNop lets constructors accept an optional logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// NewComponentLogger writes to the relay service log under component.
func NewComponentLogger(component string) Logger {
	return utils.NewComponentLogger(component)
}

// WithLogID prefixes every line with a run id. Loggers that cannot carry an
// id are returned as they are.
func WithLogID(logger Logger, logID string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	base, ok := logger.(*utils.Logger)
	if !ok || logID == "" {
		return logger
	}
	return base.WithLogID(logID)
}
