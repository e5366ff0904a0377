// Package sklog is the process-wide structured logging facade. All
// components log through here rather than calling zap or "log" directly,
// so log shape (JSON in production, console in development) is a single
// process-level decision.
package sklog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu     sync.RWMutex
	logger *zap.SugaredLogger
)

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	logger = l.Sugar()
}

// SetLogger replaces the process-wide logger, e.g. with a development
// config in tests or a *zap.Logger preconfigured with extra fields.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l.Sugar()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

func Infof(format string, args ...interface{}) {
	get().Infof(format, args...)
}

func Warningf(format string, args ...interface{}) {
	get().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	get().Errorf(format, args...)
}

// Fatalf logs at fatal level and then terminates the process, matching
// the teacher's sklog.Fatalf convention (a panic-free, flush-then-exit
// path suitable for process bootstrap failures).
func Fatalf(format string, args ...interface{}) {
	get().Fatalf(format, args...)
}

// With returns a child logger carrying the given structured fields,
// useful for attaching a correlation id to every log line for the
// lifetime of a request or job.
func With(args ...interface{}) *zap.SugaredLogger {
	return get().With(args...)
}
