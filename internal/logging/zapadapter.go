package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// The numeric packages log through *zap.Logger; the service logs through
// Logger. NewZapLogger bridges the two so one run writes one JSON stream.

// NewZapLogger returns a *zap.Logger whose entries are written by logger.
func NewZapLogger(logger *Logger) *zap.Logger {
	return zap.New(&zapCore{logger: logger})
}

type zapCore struct {
	logger *Logger
}

func mapLevel(level zapcore.Level) LogLevel {
	switch level {
	case zapcore.DebugLevel:
		return DebugLevel
	case zapcore.InfoLevel:
		return InfoLevel
	case zapcore.WarnLevel:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

func fieldValue(field zapcore.Field) interface{} {
	switch field.Type {
	case zapcore.StringType:
		return field.String
	case zapcore.Int64Type, zapcore.Int32Type, zapcore.Int16Type, zapcore.Int8Type:
		return field.Integer
	case zapcore.BoolType:
		return field.Integer == 1
	case zapcore.DurationType:
		return field.Integer
	case zapcore.StringerType:
		return field.Interface.(interface{ String() string }).String()
	default:
		return field.Interface
	}
}

func (c *zapCore) Enabled(level zapcore.Level) bool {
	return c.logger.shouldLog(mapLevel(level))
}

func (c *zapCore) With(fields []zapcore.Field) zapcore.Core {
	f := make(map[string]interface{}, len(fields))
	for _, field := range fields {
		f[field.Key] = fieldValue(field)
	}
	return &zapCore{logger: c.logger.WithFields(f)}
}

func (c *zapCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *zapCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	f := make(map[string]interface{}, len(fields)+1)
	if ent.LoggerName != "" {
		f["logger"] = ent.LoggerName
	}
	for _, field := range fields {
		f[field.Key] = fieldValue(field)
	}
	c.logger.log(mapLevel(ent.Level), ent.Message, f)
	return nil
}

func (c *zapCore) Sync() error { return nil }
