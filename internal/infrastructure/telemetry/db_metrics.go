package telemetry

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"
)

// DBMetrics records statement latency and connection pool state
type DBMetrics struct {
	queryDuration *Histogram
	queryErrors   *Counter
	registration  metric.Registration
}

// NewDBMetrics installs the statement callbacks on db and an observable pool
// gauge read from its sql.DB on every collection.
func NewDBMetrics(meter metric.Meter, db *gorm.DB) (*DBMetrics, error) {
	queryDuration, err := NewHistogram(meter, HistogramOpts{
		Name:        "db_query_duration_seconds",
		Description: "Database statement latency",
		Unit:        "s",
		Boundaries:  DBDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	queryErrors, err := NewCounter(meter, "db_query_errors_total", "Failed database statements", "{query}")
	if err != nil {
		return nil, err
	}
	m := &DBMetrics{queryDuration: queryDuration, queryErrors: queryErrors}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := m.observePool(meter, sqlDB); err != nil {
		return nil, err
	}
	if err := registerAround(db, "telemetry_metrics", markStart, m.after); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DBMetrics) observePool(meter metric.Meter, sqlDB *sql.DB) error {
	connections, err := meter.Int64ObservableGauge("db_pool_connections",
		metric.WithDescription("Connections in the pool by state"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return err
	}
	waits, err := meter.Int64ObservableCounter("db_pool_wait_total",
		metric.WithDescription("Times a caller waited for a free connection"),
		metric.WithUnit("{wait}"),
	)
	if err != nil {
		return err
	}
	m.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		stats := sqlDB.Stats()
		o.ObserveInt64(connections, int64(stats.InUse), metric.WithAttributes(AttrDBState.String("in_use")))
		o.ObserveInt64(connections, int64(stats.Idle), metric.WithAttributes(AttrDBState.String("idle")))
		o.ObserveInt64(connections, int64(stats.MaxOpenConnections), metric.WithAttributes(AttrDBState.String("max")))
		o.ObserveInt64(waits, stats.WaitCount)
		return nil
	}, connections, waits)
	return err
}

func (m *DBMetrics) after(tx *gorm.DB) {
	elapsed, ok := sinceStart(tx)
	if !ok {
		return
	}
	attrs := []attribute.KeyValue{
		AttrDBOperation.String(operationOf(tx.Statement.SQL.String())),
		AttrDBTable.String(tx.Statement.Table),
	}
	ctx := tx.Statement.Context
	m.queryDuration.RecordDuration(ctx, elapsed, attrs...)
	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		m.queryErrors.Inc(ctx, attrs...)
	}
}

// Stop unregisters the pool callback
func (m *DBMetrics) Stop() error {
	if m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}

func operationOf(sql string) string {
	sql = strings.TrimSpace(sql)
	if i := strings.IndexAny(sql, " \n\t"); i > 0 {
		sql = sql[:i]
	}
	switch op := strings.ToLower(sql); op {
	case "select", "insert", "update", "delete":
		return op
	default:
		return "other"
	}
}
