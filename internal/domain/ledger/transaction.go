package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vetclinic/backend/internal/domain/shared"
)

// TransactionType is the business event a ledger row records
type TransactionType string

const (
	TransactionTypeSale            TransactionType = "SALE"
	TransactionTypePurchase        TransactionType = "PURCHASE"
	TransactionTypeTreatment       TransactionType = "TREATMENT"
	TransactionTypeCustomerPayment TransactionType = "CUSTOMER_PAYMENT"
	TransactionTypeSupplierPayment TransactionType = "SUPPLIER_PAYMENT"
)

// IsValid checks if the transaction type is valid
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeSale, TransactionTypePurchase, TransactionTypeTreatment,
		TransactionTypeCustomerPayment, TransactionTypeSupplierPayment:
		return true
	}
	return false
}

// IsDebt reports whether the type creates an amount owed
func (t TransactionType) IsDebt() bool {
	return t == TransactionTypeSale || t == TransactionTypePurchase || t == TransactionTypeTreatment
}

// IsPayment reports whether the type settles debt
func (t TransactionType) IsPayment() bool {
	return t == TransactionTypeCustomerPayment || t == TransactionTypeSupplierPayment
}

// PartyKind returns the side of the ledger the type belongs to
func (t TransactionType) PartyKind() PartyKind {
	if t == TransactionTypePurchase || t == TransactionTypeSupplierPayment {
		return PartyKindSupplier
	}
	return PartyKindCustomer
}

// CodePrefix returns the prefix used for generated transaction codes
func (t TransactionType) CodePrefix() string {
	switch t {
	case TransactionTypeSale:
		return "STS"
	case TransactionTypePurchase:
		return "ALS"
	case TransactionTypeTreatment:
		return "TDV"
	case TransactionTypeCustomerPayment:
		return "THS"
	case TransactionTypeSupplierPayment:
		return "ODM"
	}
	return "TRX"
}

// StockDirection is the sign applied to line quantities when stock is
// adjusted: sales and treatments consume stock, purchases add it.
func (t TransactionType) StockDirection() int {
	switch t {
	case TransactionTypeSale, TransactionTypeTreatment:
		return -1
	case TransactionTypePurchase:
		return 1
	}
	return 0
}

// Status is the settlement state of a transaction
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPartial   Status = "PARTIAL"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

// DeriveStatus is the only way a non-cancelled status is computed.
func DeriveStatus(paid, total decimal.Decimal) Status {
	switch {
	case paid.GreaterThanOrEqual(total):
		return StatusPaid
	case paid.GreaterThan(decimal.Zero):
		return StatusPartial
	default:
		return StatusPending
	}
}

// PaymentMethod is how money changed hands
type PaymentMethod string

const (
	PaymentMethodCash         PaymentMethod = "CASH"
	PaymentMethodCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCheck        PaymentMethod = "CHECK"
	PaymentMethodPromissory   PaymentMethod = "PROMISSORY"
)

// IsValid checks if the payment method is valid
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCreditCard, PaymentMethodBankTransfer,
		PaymentMethodCheck, PaymentMethodPromissory:
		return true
	}
	return false
}

// LineItem is a priced product or service line of a debt transaction
type LineItem struct {
	ID          uuid.UUID
	ProductID   *uuid.UUID
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	VATRate     decimal.Decimal
	Discount    decimal.Decimal
	LineTotal   decimal.Decimal
}

// LineItemInput carries the caller-supplied part of a line
type LineItemInput struct {
	ProductID   *uuid.UUID
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	VATRate     decimal.Decimal
	Discount    decimal.Decimal
}

// Transaction is a sale, purchase, treatment or payment.
// PaidAmount and Status are the only fields mutated after creation.
type Transaction struct {
	shared.BaseAggregateRoot
	Code           string
	Type           TransactionType
	CustomerID     *uuid.UUID
	SupplierID     *uuid.UUID
	AnimalID       *uuid.UUID
	Subtotal       decimal.Decimal
	Discount       decimal.Decimal
	VATTotal       decimal.Decimal
	Total          decimal.Decimal
	PaidOnCreation decimal.Decimal
	PaidAmount     decimal.Decimal
	PaymentMethod  PaymentMethod
	Status         Status
	Date           time.Time
	DueDate        *time.Time
	Notes          string
	CreatedBy      *uuid.UUID
	Items          []LineItem
}

// DebtInput describes a new sale, purchase or treatment
type DebtInput struct {
	Type          TransactionType
	PartyID       uuid.UUID
	AnimalID      *uuid.UUID
	Items         []LineItemInput
	Discount      decimal.Decimal
	PaidAmount    decimal.Decimal
	PaymentMethod PaymentMethod
	Date          time.Time
	DueDate       *time.Time
	Notes         string
	CreatedBy     *uuid.UUID
}

// NewDebtTransaction validates input and computes totals. The code is
// assigned later, once a unique one has been reserved.
func NewDebtTransaction(in DebtInput) (*Transaction, error) {
	if !in.Type.IsDebt() {
		return nil, shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("%s is not a debt transaction type", in.Type))
	}
	if in.PartyID == uuid.Nil {
		return nil, ErrPartyRequired
	}
	if len(in.Items) == 0 {
		return nil, shared.NewDomainError("INVALID_INPUT", "at least one line item is required")
	}
	if in.Discount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_INPUT", "discount cannot be negative")
	}
	if in.PaidAmount.IsNegative() {
		return nil, shared.NewDomainError("INVALID_INPUT", "paid amount cannot be negative")
	}
	method, err := normalizeMethod(in.PaymentMethod)
	if err != nil {
		return nil, err
	}

	t := &Transaction{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Type:              in.Type,
		AnimalID:          in.AnimalID,
		Discount:          RoundMoney(in.Discount),
		PaymentMethod:     method,
		Date:              dateOrNow(in.Date),
		DueDate:           in.DueDate,
		Notes:             strings.TrimSpace(in.Notes),
		CreatedBy:         in.CreatedBy,
	}
	t.setParty(in.PartyID)

	subtotal := decimal.Zero
	vatTotal := decimal.Zero
	for i, item := range in.Items {
		line, net, vat, err := buildLine(i, item)
		if err != nil {
			return nil, err
		}
		subtotal = subtotal.Add(net)
		vatTotal = vatTotal.Add(vat)
		t.Items = append(t.Items, line)
	}

	t.Subtotal = RoundMoney(subtotal)
	t.VATTotal = RoundMoney(vatTotal)
	t.Total = RoundMoney(t.Subtotal.Add(t.VATTotal).Sub(t.Discount))
	if t.Total.IsNegative() {
		return nil, shared.NewDomainError("INVALID_INPUT", "discount exceeds transaction total")
	}

	paid := RoundMoney(in.PaidAmount)
	if paid.GreaterThan(t.Total) {
		return nil, shared.NewDomainError("INVALID_INPUT", "paid amount exceeds transaction total")
	}
	t.PaidOnCreation = paid
	t.PaidAmount = paid
	t.Status = DeriveStatus(t.PaidAmount, t.Total)
	return t, nil
}

func buildLine(idx int, in LineItemInput) (LineItem, decimal.Decimal, decimal.Decimal, error) {
	invalid := func(msg string) error {
		return shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("item %d: %s", idx+1, msg))
	}
	if !in.Quantity.IsPositive() {
		return LineItem{}, decimal.Zero, decimal.Zero, invalid("quantity must be positive")
	}
	if in.UnitPrice.IsNegative() {
		return LineItem{}, decimal.Zero, decimal.Zero, invalid("unit price cannot be negative")
	}
	if in.VATRate.IsNegative() || in.VATRate.GreaterThan(hundred) {
		return LineItem{}, decimal.Zero, decimal.Zero, invalid("vat rate must be between 0 and 100")
	}
	if in.Discount.IsNegative() {
		return LineItem{}, decimal.Zero, decimal.Zero, invalid("discount cannot be negative")
	}

	net := in.Quantity.Mul(in.UnitPrice).Sub(in.Discount)
	if net.IsNegative() {
		return LineItem{}, decimal.Zero, decimal.Zero, invalid("discount exceeds line amount")
	}
	vat := net.Mul(in.VATRate).Div(hundred)

	return LineItem{
		ID:          uuid.New(),
		ProductID:   in.ProductID,
		Description: strings.TrimSpace(in.Description),
		Quantity:    in.Quantity,
		UnitPrice:   in.UnitPrice,
		VATRate:     in.VATRate,
		Discount:    RoundMoney(in.Discount),
		LineTotal:   RoundMoney(net.Add(vat)),
	}, net, vat, nil
}

// PaymentInput describes a customer or supplier payment
type PaymentInput struct {
	PartyKind     PartyKind
	PartyID       uuid.UUID
	Amount        decimal.Decimal
	PaymentMethod PaymentMethod
	Date          time.Time
	Notes         string
	CreatedBy     *uuid.UUID
}

// NewPaymentTransaction validates and builds a payment. Payments are fully
// settled by definition.
func NewPaymentTransaction(in PaymentInput) (*Transaction, error) {
	if !in.PartyKind.IsValid() {
		return nil, shared.NewDomainError("INVALID_INPUT", "party kind must be CUSTOMER or SUPPLIER")
	}
	if in.PartyID == uuid.Nil {
		return nil, ErrPartyRequired
	}
	amount := RoundMoney(in.Amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	method, err := normalizeMethod(in.PaymentMethod)
	if err != nil {
		return nil, err
	}

	t := &Transaction{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		Type:              in.PartyKind.PaymentType(),
		Subtotal:          amount,
		Discount:          decimal.Zero,
		VATTotal:          decimal.Zero,
		Total:             amount,
		PaidOnCreation:    amount,
		PaidAmount:        amount,
		PaymentMethod:     method,
		Status:            StatusPaid,
		Date:              dateOrNow(in.Date),
		Notes:             strings.TrimSpace(in.Notes),
		CreatedBy:         in.CreatedBy,
	}
	t.setParty(in.PartyID)
	return t, nil
}

func normalizeMethod(m PaymentMethod) (PaymentMethod, error) {
	if m == "" {
		return PaymentMethodCash, nil
	}
	m = PaymentMethod(strings.ToUpper(string(m)))
	if !m.IsValid() {
		return "", shared.NewDomainError("INVALID_INPUT", fmt.Sprintf("unknown payment method %q", m))
	}
	return m, nil
}

func dateOrNow(d time.Time) time.Time {
	if d.IsZero() {
		return time.Now().UTC()
	}
	return d.UTC()
}

func (t *Transaction) setParty(id uuid.UUID) {
	partyID := id
	if t.Type.PartyKind() == PartyKindSupplier {
		t.SupplierID = &partyID
		return
	}
	t.CustomerID = &partyID
}

// Party returns the party the transaction is booked against
func (t *Transaction) Party() PartyRef {
	if t.SupplierID != nil {
		return PartyRef{Kind: PartyKindSupplier, ID: *t.SupplierID}
	}
	if t.CustomerID != nil {
		return PartyRef{Kind: PartyKindCustomer, ID: *t.CustomerID}
	}
	return PartyRef{}
}

// AssignCode sets the unique code reserved for this transaction
func (t *Transaction) AssignCode(code string) {
	t.Code = code
}

// IsCancelled reports whether the transaction was voided
func (t *Transaction) IsCancelled() bool {
	return t.Status == StatusCancelled
}

// Outstanding is total minus paid, never negative
func (t *Transaction) Outstanding() decimal.Decimal {
	out := t.Total.Sub(t.PaidAmount)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// BalanceImpact is the signed amount the transaction contributes to the
// party balance when it is created.
func (t *Transaction) BalanceImpact() decimal.Decimal {
	if t.Type.IsPayment() {
		return t.Total.Neg()
	}
	return t.Total.Sub(t.PaidOnCreation)
}

// ApplyPayment settles up to amount of the outstanding debt and returns the
// part actually applied. PaidAmount never exceeds Total.
func (t *Transaction) ApplyPayment(amount decimal.Decimal) decimal.Decimal {
	if !t.Type.IsDebt() || t.IsCancelled() || !amount.IsPositive() {
		return decimal.Zero
	}
	applied := decimal.Min(RoundMoney(amount), t.Outstanding())
	if applied.IsZero() {
		return decimal.Zero
	}
	t.PaidAmount = clamp(t.PaidAmount.Add(applied), decimal.Zero, t.Total)
	t.Status = DeriveStatus(t.PaidAmount, t.Total)
	t.IncrementVersion()
	return applied
}

// ReleasePayment undoes a previously applied allocation. The amount paid at
// creation is never released.
func (t *Transaction) ReleasePayment(amount decimal.Decimal) {
	if !t.Type.IsDebt() || !amount.IsPositive() {
		return
	}
	t.PaidAmount = clamp(t.PaidAmount.Sub(RoundMoney(amount)), t.PaidOnCreation, t.Total)
	if !t.IsCancelled() {
		t.Status = DeriveStatus(t.PaidAmount, t.Total)
	}
	t.IncrementVersion()
}

// Settle overwrites the paid amount with a recomputed value and reports
// whether anything changed.
func (t *Transaction) Settle(paid decimal.Decimal) bool {
	paid = clamp(RoundMoney(paid), decimal.Zero, t.Total)
	status := DeriveStatus(paid, t.Total)
	if paid.Equal(t.PaidAmount) && status == t.Status {
		return false
	}
	t.PaidAmount = paid
	t.Status = status
	t.IncrementVersion()
	return true
}

// Cancel voids the transaction. A cancelled debt keeps only what was paid at
// creation; the caller reverses its allocation records in the same unit of
// work.
func (t *Transaction) Cancel() error {
	if t.IsCancelled() {
		return ErrAlreadyCancelled
	}
	if t.Type.IsDebt() {
		t.PaidAmount = t.PaidOnCreation
	}
	t.Status = StatusCancelled
	t.IncrementVersion()
	return nil
}

// CheckInvariants verifies the paid/total/status relationship
func (t *Transaction) CheckInvariants() error {
	if t.PaidAmount.IsNegative() || t.PaidAmount.GreaterThan(t.Total) {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("transaction %s: paid %s outside [0, %s]", t.Code, t.PaidAmount.StringFixed(2), t.Total.StringFixed(2)))
	}
	if !t.IsCancelled() && t.Status != DeriveStatus(t.PaidAmount, t.Total) {
		return shared.NewDomainError("INVALID_STATE",
			fmt.Sprintf("transaction %s: status %s does not match paid amount", t.Code, t.Status))
	}
	return nil
}
