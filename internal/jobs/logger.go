package jobs

import (
	"go.uber.org/zap"
)

// temporalLogger adapts the global zap logger to the Temporal SDK log
// interface.
type temporalLogger struct {
	log *zap.SugaredLogger
}

func newLogger() *temporalLogger {
	return &temporalLogger{log: zap.L().Sugar().With("component", "temporal")}
}

func (l *temporalLogger) Debug(msg string, keyvals ...any) { l.log.Debugw(msg, keyvals...) }
func (l *temporalLogger) Info(msg string, keyvals ...any)  { l.log.Infow(msg, keyvals...) }
func (l *temporalLogger) Warn(msg string, keyvals ...any)  { l.log.Warnw(msg, keyvals...) }
func (l *temporalLogger) Error(msg string, keyvals ...any) { l.log.Errorw(msg, keyvals...) }
