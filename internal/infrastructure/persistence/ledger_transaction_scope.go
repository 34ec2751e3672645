package persistence

import (
	"context"

	appledger "github.com/vetclinic/backend/internal/application/ledger"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/event"
	"gorm.io/gorm"
)

// GormTransactionScope implements appledger.TransactionScope using GORM
// transactions. The function runs inside one database transaction; an error
// or panic rolls everything back.
type GormTransactionScope struct {
	db               *gorm.DB
	outboxMaxRetries int
}

// ScopeOption configures a GormTransactionScope
type ScopeOption func(*GormTransactionScope)

// WithOutboxMaxRetries overrides the retry budget of side effects written
// inside the scope. Values below one keep the entry default.
func WithOutboxMaxRetries(n int) ScopeOption {
	return func(s *GormTransactionScope) {
		s.outboxMaxRetries = n
	}
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB, opts ...ScopeOption) *GormTransactionScope {
	s := &GormTransactionScope{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs fn within a database transaction
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos appledger.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx, outboxMaxRetries: s.outboxMaxRetries})
	})
}

// gormTransactionalRepositories hands out repositories bound to one transaction
type gormTransactionalRepositories struct {
	tx               *gorm.DB
	outboxMaxRetries int
}

func (r *gormTransactionalRepositories) Transactions() ledger.TransactionRepository {
	return NewGormTransactionRepository(r.tx)
}

func (r *gormTransactionalRepositories) Parties() ledger.PartyRepository {
	return NewGormPartyRepository(r.tx)
}

func (r *gormTransactionalRepositories) Balances() ledger.BalanceEntryRepository {
	return NewGormBalanceEntryRepository(r.tx)
}

func (r *gormTransactionalRepositories) Allocations() ledger.AllocationRepository {
	return NewGormAllocationRepository(r.tx)
}

// Outbox returns the outbox bound to the transaction, so side effects commit
// together with the ledger change that caused them.
func (r *gormTransactionalRepositories) Outbox() shared.OutboxRepository {
	repo := event.NewGormOutboxRepository(r.tx)
	if r.outboxMaxRetries < 1 {
		return repo
	}
	return &retryBudgetOutbox{OutboxRepository: repo, maxRetries: r.outboxMaxRetries}
}

type retryBudgetOutbox struct {
	shared.OutboxRepository
	maxRetries int
}

func (o *retryBudgetOutbox) Save(ctx context.Context, entries ...*shared.OutboxEntry) error {
	for _, e := range entries {
		e.MaxRetries = o.maxRetries
	}
	return o.OutboxRepository.Save(ctx, entries...)
}

// Ensure GormTransactionScope implements TransactionScope
var _ appledger.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ appledger.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
