package core

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging sink used on every caught-and-logged failure path.
// The tag names the subsystem that produced the message.
type Logger interface {
	Log(level zapcore.Level, tag, msg string, fields ...zap.Field)
}

type zapLogger struct {
	l *zap.Logger
}

// NewZapLogger adapts a zap logger to the Logger sink. The tag is attached
// as the "tag" field.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapLogger{l: l}
}

func (z *zapLogger) Log(level zapcore.Level, tag, msg string, fields ...zap.Field) {
	if ce := z.l.Check(level, msg); ce != nil {
		ce.Write(append([]zap.Field{zap.String("tag", tag)}, fields...)...)
	}
}

// NopLogger returns a sink that discards everything.
func NopLogger() Logger {
	return NewZapLogger(zap.NewNop())
}
