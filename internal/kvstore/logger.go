package kvstore

import (
	"fmt"
	"log/slog"
	"strings"
)

// badgerLogger направляет внутренние логи Badger в slog.
// Info Badger слишком болтлив, поэтому уходит в Debug.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(l.msg(format, args))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(l.msg(format, args))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(l.msg(format, args))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(l.msg(format, args))
}

func (badgerLogger) msg(format string, args []any) string {
	return "badger: " + strings.TrimSpace(fmt.Sprintf(format, args...))
}
