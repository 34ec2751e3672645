package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceEntryKind is the reason a party balance moved
type BalanceEntryKind string

const (
	BalanceEntryDebt         BalanceEntryKind = "DEBT"
	BalanceEntryPayment      BalanceEntryKind = "PAYMENT"
	BalanceEntryCancellation BalanceEntryKind = "CANCELLATION"
	BalanceEntryAdjustment   BalanceEntryKind = "ADJUSTMENT"
)

// BalanceEntry is one movement in the append-only balance stream of a party
type BalanceEntry struct {
	ID            uuid.UUID
	PartyKind     PartyKind
	PartyID       uuid.UUID
	TransactionID *uuid.UUID
	Kind          BalanceEntryKind
	Amount        decimal.Decimal
	BalanceAfter  decimal.Decimal
	CreatedAt     time.Time
}

func newBalanceEntry(ref PartyRef, kind BalanceEntryKind, amount, after decimal.Decimal, txID *uuid.UUID) *BalanceEntry {
	return &BalanceEntry{
		ID:            uuid.New(),
		PartyKind:     ref.Kind,
		PartyID:       ref.ID,
		TransactionID: txID,
		Kind:          kind,
		Amount:        amount,
		BalanceAfter:  after,
		CreatedAt:     time.Now().UTC(),
	}
}

// FoldBalance sums a balance stream. The stored party balance must equal
// the fold of its entries.
func FoldBalance(entries []*BalanceEntry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	return RoundMoney(sum)
}
