package ledger

import (
	"context"

	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
)

// TransactionScope provides transactional access to ledger repositories.
// Everything done through the repositories handed to fn commits or rolls
// back together.
type TransactionScope interface {
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides access to all ledger repositories within
// one database transaction.
//
//   - Parties: the party row is locked with FindForUpdate before any read
//     that feeds a balance or allocation decision.
//   - Allocations and Balances: append-only histories.
//   - Outbox: side effects for inventory and reminders, delivered after
//     commit.
type TransactionalRepositories interface {
	Transactions() ledger.TransactionRepository
	Parties() ledger.PartyRepository
	Balances() ledger.BalanceEntryRepository
	Allocations() ledger.AllocationRepository
	Outbox() shared.OutboxRepository
}
