package handler

import (
	"fmt"

	"github.com/google/uuid"
	ledgerapp "github.com/vetclinic/backend/internal/application/ledger"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
)

// LineItemRequest is one line of a sale, purchase or treatment
// @Description Line item of a debt transaction
type LineItemRequest struct {
	ProductID   *string `json:"product_id" binding:"omitempty,uuid" example:"550e8400-e29b-41d4-a716-446655440010"`
	Description string  `json:"description" binding:"max=255" example:"Rabies vaccine"`
	Quantity    float64 `json:"quantity" binding:"required,gt=0" example:"1"`
	UnitPrice   float64 `json:"unit_price" binding:"gte=0" example:"250.00"`
	VATRate     float64 `json:"vat_rate" binding:"gte=0,lte=100" example:"20"`
	Discount    float64 `json:"discount" binding:"gte=0" example:"0"`
}

// CreateTransactionRequest books a sale, purchase or treatment
// @Description Request body for creating a debt transaction
type CreateTransactionRequest struct {
	Type          string            `json:"type" binding:"required,oneof=SALE PURCHASE TREATMENT" example:"TREATMENT"`
	CustomerID    *string           `json:"customer_id" binding:"omitempty,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	SupplierID    *string           `json:"supplier_id" binding:"omitempty,uuid"`
	AnimalID      *string           `json:"animal_id" binding:"omitempty,uuid" example:"550e8400-e29b-41d4-a716-446655440001"`
	Items         []LineItemRequest `json:"items" binding:"required,min=1,dive"`
	Discount      float64           `json:"discount" binding:"gte=0" example:"0"`
	PaidAmount    float64           `json:"paid_amount" binding:"gte=0" example:"100.00"`
	PaymentMethod string            `json:"payment_method" binding:"omitempty,oneof=CASH CREDIT_CARD BANK_TRANSFER CHECK PROMISSORY" example:"CASH"`
	Date          string            `json:"date" example:"2026-03-01"`
	DueDate       string            `json:"due_date" example:"2026-04-01"`
	Notes         string            `json:"notes" binding:"max=1000" example:"Annual check-up"`
}

// CreatePaymentRequest books a customer or supplier payment
// @Description Request body for creating a payment
type CreatePaymentRequest struct {
	PartyKind     string  `json:"party_kind" binding:"required,oneof=customer supplier CUSTOMER SUPPLIER" example:"customer"`
	PartyID       string  `json:"party_id" binding:"required,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	Amount        float64 `json:"amount" binding:"required,gt=0" example:"150.00"`
	PaymentMethod string  `json:"payment_method" binding:"omitempty,oneof=CASH CREDIT_CARD BANK_TRANSFER CHECK PROMISSORY" example:"CASH"`
	Date          string  `json:"date" example:"2026-03-05"`
	Notes         string  `json:"notes" binding:"max=1000"`
}

// RegisterPartyRequest makes a customer or supplier known to the ledger
// @Description Request body for registering a party
type RegisterPartyRequest struct {
	Kind string `json:"kind" binding:"required,oneof=customer supplier CUSTOMER SUPPLIER" example:"customer"`
	ID   string `json:"id" binding:"required,uuid" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name string `json:"name" binding:"required,min=1,max=200" example:"Jane Doe"`
}

// ReconcileRequest starts a reconciliation run
// @Description Request body for a reconciliation run. Without a party the run covers every party of the kind, or every party.
type ReconcileRequest struct {
	PartyKind string `json:"party_kind" binding:"omitempty,oneof=customer supplier CUSTOMER SUPPLIER" example:"customer"`
	PartyID   string `json:"party_id" binding:"omitempty,uuid"`
	DryRun    bool   `json:"dry_run" example:"true"`
}

// StatementQuery bounds a party statement
type StatementQuery struct {
	From string `form:"from" example:"2026-01-01"`
	To   string `form:"to" example:"2026-01-31"`
}

// ReceivablesQuery selects the side of the receivables report
type ReceivablesQuery struct {
	Kind string `form:"kind" binding:"omitempty,oneof=customer supplier CUSTOMER SUPPLIER" example:"customer"`
}

func (r CreateTransactionRequest) toCommand(actor shared.Actor) (ledgerapp.CreateTransactionCommand, error) {
	cmd := ledgerapp.CreateTransactionCommand{
		Type:          ledger.TransactionType(r.Type),
		CustomerID:    parseOptionalUUID(r.CustomerID),
		SupplierID:    parseOptionalUUID(r.SupplierID),
		AnimalID:      parseOptionalUUID(r.AnimalID),
		Discount:      toDecimal(r.Discount),
		PaidAmount:    toDecimal(r.PaidAmount),
		PaymentMethod: r.PaymentMethod,
		Notes:         r.Notes,
		Actor:         actor,
	}
	date, err := parseDate(r.Date)
	if err != nil {
		return cmd, fmt.Errorf("date: %w", err)
	}
	if date != nil {
		cmd.Date = *date
	}
	if cmd.DueDate, err = parseDate(r.DueDate); err != nil {
		return cmd, fmt.Errorf("due_date: %w", err)
	}

	cmd.Items = make([]ledgerapp.LineItemCommand, 0, len(r.Items))
	for _, item := range r.Items {
		cmd.Items = append(cmd.Items, ledgerapp.LineItemCommand{
			ProductID:   parseOptionalUUID(item.ProductID),
			Description: item.Description,
			Quantity:    toDecimal(item.Quantity),
			UnitPrice:   toDecimal(item.UnitPrice),
			VATRate:     toDecimal(item.VATRate),
			Discount:    toDecimal(item.Discount),
		})
	}
	return cmd, nil
}

func (r CreatePaymentRequest) toCommand(actor shared.Actor) (ledgerapp.CreatePaymentCommand, error) {
	kind, err := ledger.ParsePartyKind(r.PartyKind)
	if err != nil {
		return ledgerapp.CreatePaymentCommand{}, err
	}
	cmd := ledgerapp.CreatePaymentCommand{
		PartyKind:     kind,
		PartyID:       uuid.MustParse(r.PartyID),
		Amount:        toDecimal(r.Amount),
		PaymentMethod: r.PaymentMethod,
		Notes:         r.Notes,
		Actor:         actor,
	}
	date, err := parseDate(r.Date)
	if err != nil {
		return cmd, fmt.Errorf("date: %w", err)
	}
	if date != nil {
		cmd.Date = *date
	}
	return cmd, nil
}

func (r ReconcileRequest) toOptions() (ledgerapp.ReconcileOptions, error) {
	opts := ledgerapp.ReconcileOptions{DryRun: r.DryRun}
	if r.PartyKind != "" {
		kind, err := ledger.ParsePartyKind(r.PartyKind)
		if err != nil {
			return opts, err
		}
		opts.PartyKind = &kind
	}
	if r.PartyID != "" {
		if opts.PartyKind == nil {
			return opts, shared.NewDomainError("INVALID_INPUT", "party_kind is required with party_id")
		}
		id := uuid.MustParse(r.PartyID)
		opts.PartyID = &id
	}
	return opts, nil
}
