package bus

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/okian/livescore/pkg/logger"
)

// loggerAdapter routes watermill's logs into pkg/logger.
type loggerAdapter struct {
	log    logger.Logger
	fields watermill.LogFields
}

// NewLoggerAdapter wraps l as a watermill logger.
func NewLoggerAdapter(l logger.Logger) watermill.LoggerAdapter {
	return &loggerAdapter{log: l}
}

func (a *loggerAdapter) convert(extra watermill.LogFields) []logger.Field {
	merged := a.fields.Add(extra)
	out := make([]logger.Field, 0, len(merged))
	for k, v := range merged {
		out = append(out, logger.Any(k, v))
	}
	return out
}

func (a *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.log.Error(context.Background(), msg, append(a.convert(fields), logger.Error(err))...)
}

func (a *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	a.log.Info(context.Background(), msg, a.convert(fields)...)
}

func (a *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	a.log.Debug(context.Background(), msg, a.convert(fields)...)
}

// Trace is folded into debug.
func (a *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	a.log.Debug(context.Background(), msg, a.convert(fields)...)
}

func (a *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{log: a.log, fields: a.fields.Add(fields)}
}
