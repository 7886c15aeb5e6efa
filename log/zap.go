package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ZapLogger writes each message as a structured zap entry at info level.
type ZapLogger struct {
	z *zap.Logger
}

// NewZapLogger builds a JSON production logger writing to stderr.
func NewZapLogger() (*ZapLogger, error) {
	conf := zap.NewProductionConfig()
	conf.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	conf.Encoding = "json"

	z, err := conf.Build()
	if err != nil {
		return nil, err
	}
	return &ZapLogger{z}, nil
}

// WrapZap adapts an existing zap logger.
func WrapZap(z *zap.Logger) *ZapLogger {
	return &ZapLogger{z}
}

// Log joins items with spaces, as ConsoleLogger does.  Errors among the
// items are also attached as a structured field.
func (l *ZapLogger) Log(items ...interface{}) {
	msg := strings.TrimSuffix(fmt.Sprintln(items...), "\n")
	for _, item := range items {
		if err, ok := item.(error); ok {
			l.z.Info(msg, zap.Error(err))
			return
		}
	}
	l.z.Info(msg)
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.z.Sync()
}
