package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus represents the status of an outbox entry
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusSent       OutboxStatus = "SENT"
	OutboxStatusFailed     OutboxStatus = "FAILED"
	OutboxStatusDead       OutboxStatus = "DEAD"
)

// Default retry configuration
const (
	DefaultMaxRetries  = 5
	DefaultBaseBackoff = time.Second
)

// OutboxEntry is a side-effect request written in the same database
// transaction as the ledger change that caused it. It is delivered to its
// topic handler after commit.
type OutboxEntry struct {
	ID          uuid.UUID
	Topic       string
	AggregateID uuid.UUID
	Payload     []byte
	Status      OutboxStatus
	RetryCount  int
	MaxRetries  int
	LastError   string
	NextRetryAt *time.Time
	ProcessedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewOutboxEntry creates a pending entry for the given topic
func NewOutboxEntry(topic string, aggregateID uuid.UUID, payload []byte) *OutboxEntry {
	now := time.Now().UTC()
	return &OutboxEntry{
		ID:          uuid.New(),
		Topic:       topic,
		AggregateID: aggregateID,
		Payload:     payload,
		Status:      OutboxStatusPending,
		MaxRetries:  DefaultMaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MarkSent marks the entry as successfully delivered
func (e *OutboxEntry) MarkSent() {
	now := time.Now().UTC()
	e.Status = OutboxStatusSent
	e.ProcessedAt = &now
	e.UpdatedAt = now
}

// MarkFailed records a delivery failure and schedules the next attempt.
// Entries that exhausted MaxRetries become dead letters.
func (e *OutboxEntry) MarkFailed(errMsg string) {
	e.RetryCount++
	e.LastError = errMsg
	e.UpdatedAt = time.Now().UTC()

	if e.RetryCount >= e.MaxRetries {
		e.Status = OutboxStatusDead
		e.NextRetryAt = nil
		return
	}
	e.Status = OutboxStatusFailed
	// 1s, 2s, 4s, 8s, ...
	next := e.UpdatedAt.Add(DefaultBaseBackoff * time.Duration(1<<uint(e.RetryCount-1)))
	e.NextRetryAt = &next
}

// ResetForRetry moves a dead letter back to pending
func (e *OutboxEntry) ResetForRetry() error {
	if e.Status != OutboxStatusDead {
		return errors.New("can only retry dead letter entries")
	}
	e.Status = OutboxStatusPending
	e.RetryCount = 0
	e.LastError = ""
	e.NextRetryAt = nil
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// IsDead returns true if the entry is in dead letter status
func (e *OutboxEntry) IsDead() bool {
	return e.Status == OutboxStatusDead
}

// OutboxRepository defines the interface for outbox persistence
type OutboxRepository interface {
	Save(ctx context.Context, entries ...*OutboxEntry) error
	FindPending(ctx context.Context, limit int) ([]*OutboxEntry, error)
	FindRetryable(ctx context.Context, before time.Time, limit int) ([]*OutboxEntry, error)
	MarkProcessing(ctx context.Context, ids []uuid.UUID) ([]*OutboxEntry, error)
	Update(ctx context.Context, entry *OutboxEntry) error
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[OutboxStatus]int64, error)
}
