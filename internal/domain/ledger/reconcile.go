package ledger

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settlement is a recomputed paid amount for one debt
type Settlement struct {
	TransactionID uuid.UUID
	Code          string
	FromPaid      decimal.Decimal
	ToPaid        decimal.Decimal
	FromStatus    Status
	ToStatus      Status
}

// ReconcilePlan describes the writes needed to bring one party back to the
// ground truth derived from its transaction history.
type ReconcilePlan struct {
	Party           PartyRef
	StoredBalance   decimal.Decimal
	ComputedBalance decimal.Decimal
	Adjustments     []*AllocationRecord
	Settlements     []Settlement

	debts map[uuid.UUID]*Transaction
}

// BalanceDrift is computed minus stored balance
func (p *ReconcilePlan) BalanceDrift() decimal.Decimal {
	return p.ComputedBalance.Sub(p.StoredBalance)
}

// BalanceDrifted reports whether the stored balance is off by more than Epsilon
func (p *ReconcilePlan) BalanceDrifted() bool {
	return !WithinEpsilon(p.ComputedBalance, p.StoredBalance)
}

// Changed reports whether applying the plan would write anything
func (p *ReconcilePlan) Changed() bool {
	return len(p.Adjustments) > 0 || len(p.Settlements) > 0 || p.BalanceDrifted()
}

// Apply settles the planned debts and corrects the party balance. It returns
// the debts that changed and the balance entry, which is nil when the
// balance was within tolerance.
func (p *ReconcilePlan) Apply(party *Party) ([]*Transaction, *BalanceEntry) {
	changed := make([]*Transaction, 0, len(p.Settlements))
	for _, s := range p.Settlements {
		debt, ok := p.debts[s.TransactionID]
		if !ok {
			continue
		}
		if debt.Settle(s.ToPaid) {
			changed = append(changed, debt)
		}
	}

	var entry *BalanceEntry
	if p.BalanceDrifted() {
		entry = party.Post(BalanceEntryAdjustment, p.ComputedBalance.Sub(party.Balance), nil)
	}
	return changed, entry
}

// PlanReconciliation recomputes a party from first principles.
//
// Payments are pooled and walked against debts oldest first, starting from
// the amount each debt had paid at creation, regardless of where live
// allocation attached them. The resulting per-pair amounts are compared with
// the recorded allocation history and every difference becomes an ADJUSTMENT
// record, so that history stays the single source of paid amounts.
//
// The balance is Σ(debt.total − paidOnCreation) − Σ(payment.total) over
// non-cancelled transactions.
func PlanReconciliation(party *Party, debts, payments []*Transaction, records []*AllocationRecord) *ReconcilePlan {
	ref := party.Ref()
	plan := &ReconcilePlan{
		Party:         ref,
		StoredBalance: party.Balance,
		debts:         make(map[uuid.UUID]*Transaction),
	}

	activeDebts := make([]*Transaction, 0, len(debts))
	for _, d := range debts {
		if d.IsCancelled() || !d.Type.IsDebt() {
			continue
		}
		activeDebts = append(activeDebts, d)
		plan.debts[d.ID] = d
	}
	activePayments := make([]*Transaction, 0, len(payments))
	for _, pay := range payments {
		if pay.IsCancelled() || !pay.Type.IsPayment() {
			continue
		}
		activePayments = append(activePayments, pay)
	}
	SortFIFO(activeDebts)
	SortFIFO(activePayments)

	desired := globalFIFO(activeDebts, activePayments)

	recorded := NetAllocations(records)
	pairs := make(map[AllocationPair]struct{}, len(desired)+len(recorded))
	for k := range desired {
		pairs[k] = struct{}{}
	}
	for k := range recorded {
		pairs[k] = struct{}{}
	}
	for _, k := range sortedPairs(pairs, activeDebts, activePayments) {
		diff := RoundMoney(desired[k].Sub(recorded[k]))
		if diff.IsZero() {
			continue
		}
		plan.Adjustments = append(plan.Adjustments, NewAllocationRecord(AllocationKindAdjustment, ref, k.PaymentID, k.DebtID, diff))
	}

	allocatedTo := make(map[uuid.UUID]decimal.Decimal, len(activeDebts))
	for k, v := range desired {
		allocatedTo[k.DebtID] = allocatedTo[k.DebtID].Add(v)
	}

	computed := decimal.Zero
	for _, d := range activeDebts {
		computed = computed.Add(d.Total.Sub(d.PaidOnCreation))

		paid := clamp(RoundMoney(d.PaidOnCreation.Add(allocatedTo[d.ID])), decimal.Zero, d.Total)
		status := DeriveStatus(paid, d.Total)
		if paid.Equal(d.PaidAmount) && status == d.Status {
			continue
		}
		plan.Settlements = append(plan.Settlements, Settlement{
			TransactionID: d.ID,
			Code:          d.Code,
			FromPaid:      d.PaidAmount,
			ToPaid:        paid,
			FromStatus:    d.Status,
			ToStatus:      status,
		})
	}
	for _, pay := range activePayments {
		computed = computed.Sub(pay.Total)
	}
	plan.ComputedBalance = RoundMoney(computed)
	return plan
}

// globalFIFO pairs pooled payments with debt capacity, both oldest first.
func globalFIFO(debts, payments []*Transaction) map[AllocationPair]decimal.Decimal {
	desired := make(map[AllocationPair]decimal.Decimal)
	di := 0
	capacity := decimal.Zero
	if len(debts) > 0 {
		capacity = debtCapacity(debts[0])
	}

	for _, pay := range payments {
		remaining := pay.Total
		for remaining.IsPositive() && di < len(debts) {
			if !capacity.IsPositive() {
				di++
				if di < len(debts) {
					capacity = debtCapacity(debts[di])
				}
				continue
			}
			applied := decimal.Min(remaining, capacity)
			key := AllocationPair{PaymentID: pay.ID, DebtID: debts[di].ID}
			desired[key] = desired[key].Add(applied)
			remaining = remaining.Sub(applied)
			capacity = capacity.Sub(applied)
		}
	}
	return desired
}

func debtCapacity(d *Transaction) decimal.Decimal {
	c := d.Total.Sub(d.PaidOnCreation)
	if c.IsNegative() {
		return decimal.Zero
	}
	return c
}

// sortedPairs gives adjustments a stable order: known payments and debts in
// FIFO order first, pairs with cancelled or unknown sides last.
func sortedPairs(pairs map[AllocationPair]struct{}, debts, payments []*Transaction) []AllocationPair {
	debtIdx := make(map[uuid.UUID]int, len(debts))
	for i, d := range debts {
		debtIdx[d.ID] = i
	}
	payIdx := make(map[uuid.UUID]int, len(payments))
	for i, p := range payments {
		payIdx[p.ID] = i
	}
	rank := func(idx map[uuid.UUID]int, id uuid.UUID) int {
		if i, ok := idx[id]; ok {
			return i
		}
		return len(idx)
	}

	out := make([]AllocationPair, 0, len(pairs))
	for k := range pairs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		pa, pb := rank(payIdx, a.PaymentID), rank(payIdx, b.PaymentID)
		if pa != pb {
			return pa < pb
		}
		da, db := rank(debtIdx, a.DebtID), rank(debtIdx, b.DebtID)
		if da != db {
			return da < db
		}
		if a.PaymentID != b.PaymentID {
			return a.PaymentID.String() < b.PaymentID.String()
		}
		return a.DebtID.String() < b.DebtID.String()
	})
	return out
}
