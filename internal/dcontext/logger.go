package dcontext

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Logger is the leveled, field aware logger carried by a context. A
// *logrus.Entry satisfies it.
type Logger interface {
	logrus.FieldLogger
}

type loggerKey struct{}

var baseLogger atomic.Pointer[logrus.Entry]

func init() {
	baseLogger.Store(logrus.StandardLogger().WithField("go.version", runtime.Version()))
}

// WithLogger returns a context carrying logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// SetDefaultLogger replaces the logger used for contexts that carry none.
// Only *logrus.Entry loggers are accepted; anything else is ignored.
func SetDefaultLogger(logger Logger) {
	if entry, ok := logger.(*logrus.Entry); ok {
		baseLogger.Store(entry)
	}
}

// GetLogger returns the context logger. Each key that resolves to a value
// on ctx is added as a field named fmt.Sprint(key).
func GetLogger(ctx context.Context, keys ...any) Logger {
	return entryFor(ctx, keys)
}

// GetLoggerWithField is GetLogger plus one extra field. ctx is unchanged.
func GetLoggerWithField(ctx context.Context, key, value any, keys ...any) Logger {
	return entryFor(ctx, keys).WithField(fmt.Sprint(key), value)
}

// GetLoggerWithFields is GetLogger plus the given fields. ctx is unchanged.
func GetLoggerWithFields(ctx context.Context, fields map[any]any, keys ...any) Logger {
	extra := make(logrus.Fields, len(fields))
	for k, v := range fields {
		extra[fmt.Sprint(k)] = v
	}
	return entryFor(ctx, keys).WithFields(extra)
}

func entryFor(ctx context.Context, keys []any) *logrus.Entry {
	entry, _ := ctx.Value(loggerKey{}).(*logrus.Entry)
	if entry == nil {
		entry = baseLogger.Load()
		if id := ctx.Value("instance.id"); id != nil {
			entry = entry.WithField("instance.id", id)
		}
	}

	fields := make(logrus.Fields, len(keys))
	for _, k := range keys {
		if v := ctx.Value(k); v != nil {
			fields[fmt.Sprint(k)] = v
		}
	}
	if len(fields) == 0 {
		return entry
	}
	return entry.WithFields(fields)
}
