// Package logging defines the logger every shopmesh component writes through.
// Zap backs the CLI; slog is accepted for embedders. Watermill routers and
// transports get the same backend through NewWatermillAdapter.
package logging

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// LevelTrace sits below slog.LevelDebug for per-message bus chatter.
const LevelTrace = slog.LevelDebug - 4

// LogFields represents structured logging key/value pairs.
type LogFields map[string]any

// Add returns a copy of f with extra merged in.
func (f LogFields) Add(extra LogFields) LogFields {
	merged := make(LogFields, len(f)+len(extra))
	for k, v := range f {
		merged[k] = v
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged
}

func (f LogFields) attrs() []any {
	if len(f) == 0 {
		return nil
	}
	args := make([]any, 0, len(f))
	for _, k := range slices.Sorted(maps.Keys(f)) {
		args = append(args, slog.Any(k, f[k]))
	}
	return args
}

// ServiceLogger is the logging contract shared by the bus, the service client
// and the HTTP middleware.
type ServiceLogger interface {
	With(fields LogFields) ServiceLogger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

// Nop returns a logger that discards everything.
func Nop() ServiceLogger {
	return NewZapServiceLogger(zap.NewNop())
}

// NewSlogServiceLogger wraps a slog.Logger. Trace is written at LevelTrace.
func NewSlogServiceLogger(log *slog.Logger) ServiceLogger {
	if log == nil {
		panic("shopmesh: slog logger cannot be nil")
	}
	return &slogServiceLogger{inner: log}
}

type slogServiceLogger struct {
	inner *slog.Logger
}

func (s *slogServiceLogger) With(fields LogFields) ServiceLogger {
	if len(fields) == 0 {
		return s
	}
	return &slogServiceLogger{inner: s.inner.With(fields.attrs()...)}
}

func (s *slogServiceLogger) Debug(msg string, fields LogFields) {
	s.inner.Debug(msg, fields.attrs()...)
}

func (s *slogServiceLogger) Info(msg string, fields LogFields) {
	s.inner.Info(msg, fields.attrs()...)
}

func (s *slogServiceLogger) Error(msg string, err error, fields LogFields) {
	args := fields.attrs()
	if err != nil {
		args = append(args, slog.Any("error", err))
	}
	s.inner.Error(msg, args...)
}

func (s *slogServiceLogger) Trace(msg string, fields LogFields) {
	s.inner.Log(context.Background(), LevelTrace, msg, fields.attrs()...)
}

// NewWatermillAdapter converts a ServiceLogger into a Watermill LoggerAdapter so
// routers and transports log through the same backend.
func NewWatermillAdapter(log ServiceLogger) watermill.LoggerAdapter {
	if log == nil {
		panic("shopmesh: ServiceLogger cannot be nil")
	}
	return watermillAdapter{base: log}
}

type watermillAdapter struct {
	base ServiceLogger
}

func (w watermillAdapter) Error(msg string, err error, fields watermill.LogFields) {
	w.base.Error(msg, err, LogFields(fields))
}

func (w watermillAdapter) Info(msg string, fields watermill.LogFields) {
	w.base.Info(msg, LogFields(fields))
}

func (w watermillAdapter) Debug(msg string, fields watermill.LogFields) {
	w.base.Debug(msg, LogFields(fields))
}

func (w watermillAdapter) Trace(msg string, fields watermill.LogFields) {
	w.base.Trace(msg, LogFields(fields))
}

func (w watermillAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return watermillAdapter{base: w.base.With(LogFields(fields))}
}
