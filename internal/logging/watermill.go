package logging

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// watermillAdapter routes watermill logs through zap.
type watermillAdapter struct {
	logger *zap.Logger
}

// Watermill adapts logger to watermill's LoggerAdapter.
func Watermill(logger *zap.Logger) watermill.LoggerAdapter {
	return &watermillAdapter{logger: logger}
}

func fields(f watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (a *watermillAdapter) Error(msg string, err error, f watermill.LogFields) {
	a.logger.Error(msg, append(fields(f), zap.Error(err))...)
}

func (a *watermillAdapter) Info(msg string, f watermill.LogFields) {
	a.logger.Info(msg, fields(f)...)
}

func (a *watermillAdapter) Debug(msg string, f watermill.LogFields) {
	a.logger.Debug(msg, fields(f)...)
}

// Trace maps to debug; zap has no trace level.
func (a *watermillAdapter) Trace(msg string, f watermill.LogFields) {
	a.logger.Debug(msg, fields(f)...)
}

func (a *watermillAdapter) With(f watermill.LogFields) watermill.LoggerAdapter {
	return &watermillAdapter{logger: a.logger.With(fields(f)...)}
}
