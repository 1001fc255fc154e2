package transport

import "go.uber.org/zap"

// Logger is the printf-style logging surface the coordinator uses for
// unstructured messages.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// StructuredLogger is the key/value logging surface the coordinator prefers
// when it has discrete fields to attach (halo id, msgtag, peer rank).
type StructuredLogger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// NoopLogger discards everything; it is the default when a runtime is
// constructed without a Logger.
type NoopLogger struct{}

func (NoopLogger) Debugf(string, ...any) {}
func (NoopLogger) Infof(string, ...any)  {}
func (NoopLogger) Warnf(string, ...any)  {}
func (NoopLogger) Errorf(string, ...any) {}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// ZapLogger adapts a *zap.SugaredLogger to both Logger and StructuredLogger.
type ZapLogger struct {
	l *zap.SugaredLogger
}

// NewZapLogger wraps z for use as the runtime's default production logger.
func NewZapLogger(z *zap.Logger) *ZapLogger {
	if z == nil {
		z = zap.NewNop()
	}
	return &ZapLogger{l: z.Sugar()}
}

func (z *ZapLogger) Debugf(format string, args ...any) { z.l.Debugf(format, args...) }
func (z *ZapLogger) Infof(format string, args ...any)  { z.l.Infof(format, args...) }
func (z *ZapLogger) Warnf(format string, args ...any)  { z.l.Warnf(format, args...) }
func (z *ZapLogger) Errorf(format string, args ...any) { z.l.Errorf(format, args...) }

func (z *ZapLogger) Debug(msg string, kv ...any) { z.l.Debugw(msg, kv...) }
func (z *ZapLogger) Info(msg string, kv ...any)  { z.l.Infow(msg, kv...) }
func (z *ZapLogger) Warn(msg string, kv ...any)  { z.l.Warnw(msg, kv...) }
func (z *ZapLogger) Error(msg string, kv ...any) { z.l.Errorw(msg, kv...) }
