package ledger

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AllocationKind tells how an allocation record came to exist
type AllocationKind string

const (
	AllocationKindAllocation AllocationKind = "ALLOCATION"
	AllocationKindReversal   AllocationKind = "REVERSAL"
	AllocationKindAdjustment AllocationKind = "ADJUSTMENT"
)

// AllocationRecord states that a payment settled part of a debt. Records are
// append-only; the net amount per (payment, debt) pair is the fact.
type AllocationRecord struct {
	ID                   uuid.UUID
	PaymentTransactionID uuid.UUID
	DebtTransactionID    uuid.UUID
	PartyKind            PartyKind
	PartyID              uuid.UUID
	Amount               decimal.Decimal
	Kind                 AllocationKind
	CreatedAt            time.Time
}

// NewAllocationRecord creates a signed allocation record
func NewAllocationRecord(kind AllocationKind, party PartyRef, paymentID, debtID uuid.UUID, amount decimal.Decimal) *AllocationRecord {
	return &AllocationRecord{
		ID:                   uuid.New(),
		PaymentTransactionID: paymentID,
		DebtTransactionID:    debtID,
		PartyKind:            party.Kind,
		PartyID:              party.ID,
		Amount:               RoundMoney(amount),
		Kind:                 kind,
		CreatedAt:            time.Now().UTC(),
	}
}

// AllocationPair keys the net allocation between one payment and one debt
type AllocationPair struct {
	PaymentID uuid.UUID
	DebtID    uuid.UUID
}

// NetAllocations folds records into net amounts per pair. Pairs netting to
// zero are omitted.
func NetAllocations(records []*AllocationRecord) map[AllocationPair]decimal.Decimal {
	net := make(map[AllocationPair]decimal.Decimal)
	for _, r := range records {
		key := AllocationPair{PaymentID: r.PaymentTransactionID, DebtID: r.DebtTransactionID}
		net[key] = net[key].Add(r.Amount)
	}
	for k, v := range net {
		if v.IsZero() {
			delete(net, k)
		}
	}
	return net
}

// Allocation is one step of a FIFO walk
type Allocation struct {
	TransactionID   uuid.UUID
	TransactionCode string
	AmountApplied   decimal.Decimal
	PaidBefore      decimal.Decimal
	PaidAfter       decimal.Decimal
}

// AllocationResult is the outcome of applying one payment
type AllocationResult struct {
	Allocations    []Allocation
	TotalAllocated decimal.Decimal
	Remainder      decimal.Decimal
}

// Records turns the result into ALLOCATION records for the given payment
func (r *AllocationResult) Records(payment *Transaction) []*AllocationRecord {
	records := make([]*AllocationRecord, 0, len(r.Allocations))
	for _, a := range r.Allocations {
		records = append(records, NewAllocationRecord(AllocationKindAllocation, payment.Party(), payment.ID, a.TransactionID, a.AmountApplied))
	}
	return records
}

// SortFIFO orders transactions oldest first. Ties on date fall back to
// creation time and then code so the order is total.
func SortFIFO(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Code < b.Code
	})
}

// AllocateFIFO applies amount to debts oldest first and mutates their paid
// amount and status. Whatever cannot be attached is returned as remainder.
// Debts must all belong to the paying party; cancelled or settled ones are
// skipped.
func AllocateFIFO(amount decimal.Decimal, debts []*Transaction) (*AllocationResult, error) {
	amount = RoundMoney(amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	sorted := make([]*Transaction, len(debts))
	copy(sorted, debts)
	SortFIFO(sorted)

	remaining := amount
	result := &AllocationResult{
		Allocations:    make([]Allocation, 0),
		TotalAllocated: decimal.Zero,
	}

	for _, debt := range sorted {
		if !remaining.IsPositive() {
			break
		}
		if !debt.Type.IsDebt() || debt.IsCancelled() || !debt.Outstanding().IsPositive() {
			continue
		}

		before := debt.PaidAmount
		applied := debt.ApplyPayment(remaining)
		if applied.IsZero() {
			continue
		}

		result.Allocations = append(result.Allocations, Allocation{
			TransactionID:   debt.ID,
			TransactionCode: debt.Code,
			AmountApplied:   applied,
			PaidBefore:      before,
			PaidAfter:       debt.PaidAmount,
		})
		remaining = remaining.Sub(applied)
		result.TotalAllocated = result.TotalAllocated.Add(applied)
	}

	result.Remainder = remaining
	return result, nil
}
