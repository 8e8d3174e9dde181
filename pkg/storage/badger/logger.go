package badger

import (
	"go.uber.org/zap"
)

// zapLogger adapts a zap logger to badger.Logger. Badger is chatty at info
// level, so its info messages are demoted to debug.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

func newLogger(l *zap.Logger) *zapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &zapLogger{sugar: l.Named("badger").Sugar()}
}

func (l *zapLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

func (l *zapLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *zapLogger) Infof(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *zapLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}
