package logger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger writes GORM statements to zap.
//
// Failing statements log at Error, except unique violations: the code
// generator retries on those, so they log at Warn. Statements taking a row
// lock get their own threshold so contention on a party row is visible
// before it turns into slow queries.
type GormLogger struct {
	logger            *zap.Logger
	logLevel          gormlogger.LogLevel
	slowThreshold     time.Duration
	lockWaitThreshold time.Duration
	maxSQLLength      int
}

// GormLoggerOption configures a GormLogger
type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets the slow query threshold. Zero disables it.
func WithSlowThreshold(threshold time.Duration) GormLoggerOption {
	return func(l *GormLogger) {
		l.slowThreshold = threshold
	}
}

// WithLockWaitThreshold sets how long a SELECT ... FOR UPDATE may take before
// it is reported as contended. Zero disables it.
func WithLockWaitThreshold(threshold time.Duration) GormLoggerOption {
	return func(l *GormLogger) {
		l.lockWaitThreshold = threshold
	}
}

// WithMaxSQLLength caps the logged statement text. Zero logs it whole.
func WithMaxSQLLength(n int) GormLoggerOption {
	return func(l *GormLogger) {
		l.maxSQLLength = n
	}
}

// NewGormLogger creates a GORM logger backed by zap
func NewGormLogger(zapLogger *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	gl := &GormLogger{
		logger:            zapLogger.Named("gorm"),
		logLevel:          level,
		slowThreshold:     200 * time.Millisecond,
		lockWaitThreshold: 50 * time.Millisecond,
		maxSQLLength:      2048,
	}
	for _, opt := range opts {
		opt(gl)
	}
	return gl
}

// LogMode implements gormlogger.Interface
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Info {
		l.logger.Sugar().Infof(msg, data...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Warn {
		l.logger.Sugar().Warnf(msg, data...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.logLevel >= gormlogger.Error {
		l.logger.Sugar().Errorf(msg, data...)
	}
}

// Trace implements gormlogger.Interface
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.logLevel <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	locking := isLockingStatement(sql)

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", l.truncate(sql)),
	}
	if locking {
		fields = append(fields, zap.Bool("row_lock", true))
	}
	if requestID := GetRequestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if actor := GetActor(ctx); actor != "" {
		fields = append(fields, zap.String("actor", actor))
	}
	log := WithTraceContext(ctx, l.logger)

	switch {
	case err != nil && errors.Is(err, gormlogger.ErrRecordNotFound):
		return

	case err != nil && isUniqueViolation(err):
		if l.logLevel >= gormlogger.Warn {
			log.Warn("SQL unique violation", append(fields, zap.Error(err))...)
		}

	case err != nil && l.logLevel >= gormlogger.Error:
		log.Error("SQL Error", append(fields, zap.Error(err))...)

	case locking && l.lockWaitThreshold != 0 && elapsed > l.lockWaitThreshold && l.logLevel >= gormlogger.Warn:
		log.Warn("Row lock contended", fields...)

	case l.slowThreshold != 0 && elapsed > l.slowThreshold && l.logLevel >= gormlogger.Warn:
		log.Warn("Slow SQL", append(fields, zap.Duration("threshold", l.slowThreshold))...)

	case l.logLevel >= gormlogger.Info:
		log.Debug("SQL Query", fields...)
	}
}

func (l *GormLogger) truncate(sql string) string {
	if l.maxSQLLength <= 0 || len(sql) <= l.maxSQLLength {
		return sql
	}
	return sql[:l.maxSQLLength] + "... (" + strconv.Itoa(len(sql)) + " bytes)"
}

func isLockingStatement(sql string) bool {
	return strings.Contains(strings.ToUpper(sql), "FOR UPDATE")
}

// isUniqueViolation matches the translated GORM error as well as raw
// postgres and sqlite messages
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// MapGormLogLevel maps a service log level to a GORM log level. Only debug
// logs every statement.
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch strings.ToLower(level) {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "warn":
		return gormlogger.Warn
	case "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
