package telemetry

import (
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds database tracing configuration
type DBTracingConfig struct {
	Enabled bool
	// LogFullSQL keeps bound variables in span statements. Development only.
	LogFullSQL      bool
	SlowQueryThresh time.Duration
	DBSystem        string
}

// DefaultDBTracingConfig returns tracing off with a 200ms slow query threshold
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		SlowQueryThresh: 200 * time.Millisecond,
		DBSystem:        "postgresql",
	}
}

const startedAtKey = "telemetry:started_at"

// RegisterDBTracing installs otelgorm and a callback that flags slow
// statements on their span and in the log.
func RegisterDBTracing(db *gorm.DB, cfg DBTracingConfig, logger *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}

	after := func(tx *gorm.DB) {
		elapsed, ok := sinceStart(tx)
		span := trace.SpanFromContext(tx.Statement.Context)
		if span.IsRecording() {
			span.SetAttributes(attribute.Int64("db.rows_affected", tx.Statement.RowsAffected))
			if tx.Statement.Table != "" {
				span.SetAttributes(attribute.String("db.sql.table", tx.Statement.Table))
			}
			if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
				span.SetStatus(codes.Error, tx.Error.Error())
			}
		}
		if !ok || cfg.SlowQueryThresh <= 0 || elapsed < cfg.SlowQueryThresh {
			return
		}
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		logger.Warn("slow query",
			zap.String("table", tx.Statement.Table),
			zap.Duration("elapsed", elapsed),
			zap.String("trace_id", GetTraceID(tx.Statement.Context)),
		)
	}
	// Registered ahead of otelgorm so the after hook sees the statement span
	// before otelgorm ends it.
	if err := registerAround(db, "telemetry_trace", markStart, after); err != nil {
		return err
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(cfg.DBSystem)}
	if !cfg.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}

	logger.Info("Database tracing enabled",
		zap.Bool("log_full_sql", cfg.LogFullSQL),
		zap.Duration("slow_query_threshold", cfg.SlowQueryThresh),
	)
	return nil
}

func markStart(tx *gorm.DB) {
	if _, ok := tx.InstanceGet(startedAtKey); !ok {
		tx.InstanceSet(startedAtKey, time.Now())
	}
}

func sinceStart(tx *gorm.DB) (time.Duration, bool) {
	v, ok := tx.InstanceGet(startedAtKey)
	if !ok {
		return 0, false
	}
	start, ok := v.(time.Time)
	if !ok {
		return 0, false
	}
	return time.Since(start), true
}

// registerAround hooks before and after every gorm statement kind
func registerAround(db *gorm.DB, prefix string, before, after func(*gorm.DB)) error {
	cb := db.Callback()
	steps := []func() error{
		func() error { return cb.Create().Before("gorm:create").Register(prefix+":before_create", before) },
		func() error { return cb.Query().Before("gorm:query").Register(prefix+":before_query", before) },
		func() error { return cb.Update().Before("gorm:update").Register(prefix+":before_update", before) },
		func() error { return cb.Delete().Before("gorm:delete").Register(prefix+":before_delete", before) },
		func() error { return cb.Row().Before("gorm:row").Register(prefix+":before_row", before) },
		func() error { return cb.Raw().Before("gorm:raw").Register(prefix+":before_raw", before) },
		func() error { return cb.Create().After("gorm:create").Register(prefix+":after_create", after) },
		func() error { return cb.Query().After("gorm:query").Register(prefix+":after_query", after) },
		func() error { return cb.Update().After("gorm:update").Register(prefix+":after_update", after) },
		func() error { return cb.Delete().After("gorm:delete").Register(prefix+":after_delete", after) },
		func() error { return cb.Row().After("gorm:row").Register(prefix+":after_row", after) },
		func() error { return cb.Raw().After("gorm:raw").Register(prefix+":after_raw", after) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
