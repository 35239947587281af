package observability

import (
	"go.uber.org/zap"

	"github.com/avrlink/avrlink/internal/core"
)

// componentLogger tags every entry with a fixed set of fields.
type componentLogger struct {
	base   core.Logger
	fields []zap.Field
}

// Component returns a logger that adds component (and any extra fields) to
// every entry written through base. A nil base falls back to CLILogger, then
// to a no-op logger.
func Component(base core.Logger, component string, fields ...zap.Field) core.Logger {
	if base == nil {
		if CLILogger != nil {
			base = CLILogger
		} else {
			base = core.NopLogger()
		}
	}
	tagged := make([]zap.Field, 0, len(fields)+1)
	tagged = append(tagged, zap.String("component", component))
	tagged = append(tagged, fields...)
	return &componentLogger{base: base, fields: tagged}
}

func (l *componentLogger) with(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return l.fields
	}
	out := make([]zap.Field, 0, len(l.fields)+len(fields))
	out = append(out, l.fields...)
	return append(out, fields...)
}

func (l *componentLogger) Debug(msg string, fields ...zap.Field) {
	l.base.Debug(msg, l.with(fields)...)
}
func (l *componentLogger) Info(msg string, fields ...zap.Field) { l.base.Info(msg, l.with(fields)...) }
func (l *componentLogger) Warn(msg string, fields ...zap.Field) { l.base.Warn(msg, l.with(fields)...) }
func (l *componentLogger) Error(msg string, fields ...zap.Field) {
	l.base.Error(msg, l.with(fields)...)
}
