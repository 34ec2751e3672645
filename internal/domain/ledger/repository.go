package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransactionFilter narrows a party transaction listing
type TransactionFilter struct {
	From             *time.Time
	To               *time.Time
	Types            []TransactionType
	IncludeCancelled bool
}

// TransactionRepository persists ledger transactions and their line items
type TransactionRepository interface {
	// Create inserts the transaction with its items. A code clash is
	// reported as ErrDuplicateCode.
	Create(ctx context.Context, tx *Transaction) error
	FindByID(ctx context.Context, id uuid.UUID) (*Transaction, error)
	CodeExists(ctx context.Context, code string) (bool, error)
	// FindOutstandingDebts returns non-cancelled debts of the party that are
	// not fully paid, oldest first.
	FindOutstandingDebts(ctx context.Context, party PartyRef) ([]*Transaction, error)
	// FindDebts returns every non-cancelled debt of the party.
	FindDebts(ctx context.Context, party PartyRef) ([]*Transaction, error)
	// FindPayments returns every non-cancelled payment of the party.
	FindPayments(ctx context.Context, party PartyRef) ([]*Transaction, error)
	FindByParty(ctx context.Context, party PartyRef, filter TransactionFilter) ([]*Transaction, error)
	// UpdateSettlement writes paid amount and status, conditional on the
	// version the transaction was loaded with.
	UpdateSettlement(ctx context.Context, tx *Transaction) error
}

// PartyRepository persists parties and their cached balance
type PartyRepository interface {
	FindByRef(ctx context.Context, ref PartyRef) (*Party, error)
	// FindForUpdate loads the party holding a row lock until the enclosing
	// transaction ends.
	FindForUpdate(ctx context.Context, ref PartyRef) (*Party, error)
	// Register inserts the party or refreshes its name and active flag.
	Register(ctx context.Context, party *Party) error
	// UpdateBalance writes balance and active flag, conditional on version.
	UpdateBalance(ctx context.Context, party *Party) error
	ListActive(ctx context.Context, kind *PartyKind) ([]*Party, error)
	ListWithPositiveBalance(ctx context.Context, kind PartyKind) ([]*Party, error)
}

// BalanceEntryRepository persists the append-only balance stream
type BalanceEntryRepository interface {
	Append(ctx context.Context, entry *BalanceEntry) error
	FindByParty(ctx context.Context, ref PartyRef) ([]*BalanceEntry, error)
}

// AllocationRepository persists the append-only allocation history
type AllocationRepository interface {
	Append(ctx context.Context, records ...*AllocationRecord) error
	FindByPayment(ctx context.Context, paymentID uuid.UUID) ([]*AllocationRecord, error)
	FindByDebt(ctx context.Context, debtID uuid.UUID) ([]*AllocationRecord, error)
	FindByParty(ctx context.Context, ref PartyRef) ([]*AllocationRecord, error)
}
