package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vetclinic/backend/internal/domain/shared"
)

// PartyKind distinguishes customers from suppliers
type PartyKind string

const (
	PartyKindCustomer PartyKind = "CUSTOMER"
	PartyKindSupplier PartyKind = "SUPPLIER"
)

// IsValid checks if the party kind is valid
func (k PartyKind) IsValid() bool {
	return k == PartyKindCustomer || k == PartyKindSupplier
}

// ParsePartyKind accepts the kind in any letter case
func ParsePartyKind(s string) (PartyKind, error) {
	k := PartyKind(strings.ToUpper(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("unknown party kind %q", s))
	}
	return k, nil
}

// DebtTypes returns the transaction types that create debt for this kind
func (k PartyKind) DebtTypes() []TransactionType {
	if k == PartyKindSupplier {
		return []TransactionType{TransactionTypePurchase}
	}
	return []TransactionType{TransactionTypeSale, TransactionTypeTreatment}
}

// PaymentType returns the transaction type that settles debt for this kind
func (k PartyKind) PaymentType() TransactionType {
	if k == PartyKindSupplier {
		return TransactionTypeSupplierPayment
	}
	return TransactionTypeCustomerPayment
}

// PartyRef addresses a party balance row
type PartyRef struct {
	Kind PartyKind
	ID   uuid.UUID
}

func (r PartyRef) String() string {
	return string(r.Kind) + ":" + r.ID.String()
}

// Validate checks that the reference is complete
func (r PartyRef) Validate() error {
	if !r.Kind.IsValid() {
		return shared.NewDomainError("INVALID_INPUT", "party kind must be CUSTOMER or SUPPLIER")
	}
	if r.ID == uuid.Nil {
		return ErrPartyRequired
	}
	return nil
}

// Party holds the denormalized running balance of a customer or supplier.
// Positive balance means the customer owes the clinic, or the clinic owes
// the supplier.
type Party struct {
	shared.BaseAggregateRoot
	Kind    PartyKind
	Name    string
	Balance decimal.Decimal
	Active  bool
}

// NewParty registers a party with a zero balance
func NewParty(ref PartyRef, name string) (*Party, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	p := &Party{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Kind:              ref.Kind,
		Name:              strings.TrimSpace(name),
		Balance:           decimal.Zero,
		Active:            true,
	}
	p.ID = ref.ID
	return p, nil
}

// Ref returns the party reference
func (p *Party) Ref() PartyRef {
	return PartyRef{Kind: p.Kind, ID: p.ID}
}

// Post applies a signed balance movement and returns the entry recording it.
// The caller persists both in the same unit of work.
func (p *Party) Post(kind BalanceEntryKind, amount decimal.Decimal, transactionID *uuid.UUID) *BalanceEntry {
	amount = RoundMoney(amount)
	p.Balance = RoundMoney(p.Balance.Add(amount))
	p.IncrementVersion()
	return newBalanceEntry(p.Ref(), kind, amount, p.Balance, transactionID)
}

// Deactivate excludes the party from new transactions and reconciliation
func (p *Party) Deactivate() {
	if !p.Active {
		return
	}
	p.Active = false
	p.IncrementVersion()
}
