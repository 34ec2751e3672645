// Package audit records who changed which ledger row. Records are built on the
// caller's goroutine and written by a background worker, so a slow or failing
// audit store never delays or fails a ledger write.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vetclinic/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Action is the kind of change
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Entry is one audit record ready to be stored
type Entry struct {
	ID            uuid.UUID
	Table         string
	RecordID      uuid.UUID
	Action        Action
	Before        json.RawMessage
	After         json.RawMessage
	ChangedFields []string
	Actor         shared.Actor
	CreatedAt     time.Time
}

// Sink stores audit entries
type Sink interface {
	Write(ctx context.Context, entries []Entry) error
}

// Config tunes the background writer
type Config struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

// DefaultConfig returns the writer defaults
func DefaultConfig() Config {
	return Config{
		QueueSize:     1024,
		BatchSize:     50,
		FlushInterval: time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// AsyncRecorder queues entries in a bounded channel drained by one worker.
// When the queue is full the entry is dropped and logged.
type AsyncRecorder struct {
	sink    Sink
	config  Config
	logger  *zap.Logger
	queue   chan Entry
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewAsyncRecorder creates the recorder and starts its worker
func NewAsyncRecorder(sink Sink, config Config, logger *zap.Logger) *AsyncRecorder {
	defaults := DefaultConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}

	r := &AsyncRecorder{
		sink:   sink,
		config: config,
		logger: logger.Named("audit"),
		queue:  make(chan Entry, config.QueueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// RecordCreate records a new row
func (r *AsyncRecorder) RecordCreate(_ context.Context, table string, recordID uuid.UUID, after any, actor shared.Actor) {
	r.record(table, recordID, ActionCreate, nil, after, actor)
}

// RecordUpdate records a changed row with the list of changed fields
func (r *AsyncRecorder) RecordUpdate(_ context.Context, table string, recordID uuid.UUID, before, after any, actor shared.Actor) {
	r.record(table, recordID, ActionUpdate, before, after, actor)
}

// RecordDelete records a removed or deactivated row
func (r *AsyncRecorder) RecordDelete(_ context.Context, table string, recordID uuid.UUID, before any, actor shared.Actor) {
	r.record(table, recordID, ActionDelete, before, nil, actor)
}

// Dropped returns how many entries were discarded because the queue was full
func (r *AsyncRecorder) Dropped() int64 {
	return r.dropped.Load()
}

func (r *AsyncRecorder) record(table string, recordID uuid.UUID, action Action, before, after any, actor shared.Actor) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("audit record panicked", zap.Any("panic", p), zap.String("table", table))
		}
	}()

	entry := Entry{
		ID:        uuid.New(),
		Table:     table,
		RecordID:  recordID,
		Action:    action,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}
	beforeMap, beforeJSON, err := snapshot(before)
	if err != nil {
		r.logger.Warn("audit snapshot failed", zap.String("table", table), zap.Error(err))
	}
	afterMap, afterJSON, err := snapshot(after)
	if err != nil {
		r.logger.Warn("audit snapshot failed", zap.String("table", table), zap.Error(err))
	}
	entry.Before, entry.After = beforeJSON, afterJSON
	if action == ActionUpdate {
		entry.ChangedFields = changedFields(beforeMap, afterMap)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("audit recorder closed, entry discarded",
			zap.String("table", table),
			zap.String("record_id", recordID.String()),
		)
		return
	}
	select {
	case r.queue <- entry:
	default:
		r.dropped.Add(1)
		r.logger.Warn("audit queue full, entry dropped",
			zap.String("table", table),
			zap.String("record_id", recordID.String()),
			zap.String("action", string(action)),
		)
	}
}

func (r *AsyncRecorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, r.config.BatchSize)
	for {
		select {
		case entry, ok := <-r.queue:
			if !ok {
				r.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= r.config.BatchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (r *AsyncRecorder) flush(batch []Entry) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("audit sink panicked", zap.Any("panic", p), zap.Int("entries", len(batch)))
		}
	}()
	if err := r.sink.Write(ctx, batch); err != nil {
		r.logger.Error("failed to write audit entries", zap.Int("entries", len(batch)), zap.Error(err))
	}
}

// Close stops accepting entries and waits for queued ones to be written
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
