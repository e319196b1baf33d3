package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/alikebrahim/neuravox/internal/logging"
)

// gormLogger adapts GORM's logger.Interface onto the package-wide
// slog-based logging, logging slow queries and real failures without
// gorm's own log.Logger default.
type gormLogger struct {
	slowThreshold time.Duration
	level         gormlogger.LogLevel
}

func newGormLogger(slowThreshold time.Duration) *gormLogger {
	return &gormLogger{slowThreshold: slowThreshold, level: gormlogger.Warn}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		logging.ForComponent("state").InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		logging.ForComponent("state").WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		logging.ForComponent("state").ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		logging.ForComponent("state").ErrorContext(ctx, "state query failed",
			"error", err, "sql", sql, "duration", elapsed, "rows", rows)
	case l.slowThreshold != 0 && elapsed > l.slowThreshold:
		logging.ForComponent("state").WarnContext(ctx, "slow state query",
			"sql", sql, "duration", elapsed, "rows", rows, "threshold", l.slowThreshold)
	case l.level >= gormlogger.Info:
		logging.ForComponent("state").DebugContext(ctx, "state query",
			"sql", sql, "duration", elapsed, "rows", rows)
	}
}
