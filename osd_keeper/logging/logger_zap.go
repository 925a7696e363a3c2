package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type zapLogger struct {
	mu    sync.RWMutex
	depth int
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

func newZapCore() zapcore.Core {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		zapcore.InfoLevel,
	)
}

// GetZapLogger writes console-encoded lines to stdout. The caller reported
// is the one outside this package once SetDepth is adjusted by the facade.
func GetZapLogger(moduleName string) Logger {
	base := zap.New(newZapCore(), zap.AddCaller()).Named(moduleName)
	ans := &zapLogger{base: base}
	ans.rebuild()
	return ans
}

func (l *zapLogger) rebuild() {
	l.sugar = l.base.WithOptions(zap.AddCallerSkip(l.depth + 1)).Sugar()
}

func (l *zapLogger) Depth() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.depth
}

func (l *zapLogger) SetDepth(depth int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.depth = depth
	l.rebuild()
}

func (l *zapLogger) get() *zap.SugaredLogger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sugar
}

func (l *zapLogger) Errorf(format string, args ...interface{}) {
	l.get().Errorf(format, args...)
}

func (l *zapLogger) Warningf(format string, args ...interface{}) {
	l.get().Warnf(format, args...)
}

func (l *zapLogger) Infof(format string, args ...interface{}) {
	l.get().Infof(format, args...)
}

func (l *zapLogger) Flush() {
	_ = l.get().Sync()
}
