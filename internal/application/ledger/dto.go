package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
)

// LineItemCommand is one line of a debt transaction
type LineItemCommand struct {
	ProductID   *uuid.UUID
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	VATRate     decimal.Decimal
	Discount    decimal.Decimal
}

// CreateTransactionCommand creates a sale, purchase or treatment
type CreateTransactionCommand struct {
	Type          ledger.TransactionType
	CustomerID    *uuid.UUID
	SupplierID    *uuid.UUID
	AnimalID      *uuid.UUID
	Items         []LineItemCommand
	Discount      decimal.Decimal
	PaidAmount    decimal.Decimal
	PaymentMethod string
	Date          time.Time
	DueDate       *time.Time
	Notes         string
	Actor         shared.Actor
}

// CreatePaymentCommand creates a customer or supplier payment
type CreatePaymentCommand struct {
	PartyKind     ledger.PartyKind
	PartyID       uuid.UUID
	Amount        decimal.Decimal
	PaymentMethod string
	Date          time.Time
	Notes         string
	Actor         shared.Actor
}

// CancelTransactionCommand voids a transaction
type CancelTransactionCommand struct {
	TransactionID uuid.UUID
	Actor         shared.Actor
}

// RegisterPartyCommand makes a customer or supplier known to the ledger
type RegisterPartyCommand struct {
	Kind  ledger.PartyKind
	ID    uuid.UUID
	Name  string
	Actor shared.Actor
}

// LineItemResponse is the read model of a line item
type LineItemResponse struct {
	ID          uuid.UUID       `json:"id"`
	ProductID   *uuid.UUID      `json:"product_id,omitempty"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	Discount    decimal.Decimal `json:"discount"`
	LineTotal   decimal.Decimal `json:"line_total"`
}

// TransactionResponse is the read model of a ledger transaction
type TransactionResponse struct {
	ID             uuid.UUID          `json:"id"`
	Code           string             `json:"code"`
	Type           string             `json:"type"`
	CustomerID     *uuid.UUID         `json:"customer_id,omitempty"`
	SupplierID     *uuid.UUID         `json:"supplier_id,omitempty"`
	AnimalID       *uuid.UUID         `json:"animal_id,omitempty"`
	Subtotal       decimal.Decimal    `json:"subtotal"`
	Discount       decimal.Decimal    `json:"discount"`
	VATTotal       decimal.Decimal    `json:"vat_total"`
	Total          decimal.Decimal    `json:"total"`
	PaidOnCreation decimal.Decimal    `json:"paid_on_creation"`
	PaidAmount     decimal.Decimal    `json:"paid_amount"`
	PaymentMethod  string             `json:"payment_method"`
	Status         string             `json:"status"`
	Date           time.Time          `json:"date"`
	DueDate        *time.Time         `json:"due_date,omitempty"`
	Notes          string             `json:"notes,omitempty"`
	CreatedBy      *uuid.UUID         `json:"created_by,omitempty"`
	Items          []LineItemResponse `json:"items,omitempty"`
	Version        int                `json:"version"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// AllocationResponse is one step of a payment allocation
type AllocationResponse struct {
	TransactionID   uuid.UUID       `json:"transaction_id"`
	TransactionCode string          `json:"transaction_code"`
	AmountApplied   decimal.Decimal `json:"amount_applied"`
	PaidAfter       decimal.Decimal `json:"paid_after"`
}

// PaymentResponse is a created payment with the outcome of its allocation
type PaymentResponse struct {
	Payment        TransactionResponse  `json:"payment"`
	Allocations    []AllocationResponse `json:"allocations"`
	TotalAllocated decimal.Decimal      `json:"total_allocated"`
	Remainder      decimal.Decimal      `json:"remainder"`
	BalanceAfter   decimal.Decimal      `json:"balance_after"`
}

// AllocationRecordResponse is a stored allocation record
type AllocationRecordResponse struct {
	ID                   uuid.UUID       `json:"id"`
	PaymentTransactionID uuid.UUID       `json:"payment_transaction_id"`
	DebtTransactionID    uuid.UUID       `json:"debt_transaction_id"`
	Amount               decimal.Decimal `json:"amount"`
	Kind                 string          `json:"kind"`
	CreatedAt            time.Time       `json:"created_at"`
}

// PartyBalanceResponse shows the cached balance next to the fold of the
// balance stream.
type PartyBalanceResponse struct {
	Kind          string          `json:"kind"`
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	Active        bool            `json:"active"`
	Balance       decimal.Decimal `json:"balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
	InSync        bool            `json:"in_sync"`
	Version       int             `json:"version"`
}

// ToTransactionResponse converts a domain transaction
func ToTransactionResponse(tx *ledger.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:             tx.ID,
		Code:           tx.Code,
		Type:           string(tx.Type),
		CustomerID:     tx.CustomerID,
		SupplierID:     tx.SupplierID,
		AnimalID:       tx.AnimalID,
		Subtotal:       tx.Subtotal,
		Discount:       tx.Discount,
		VATTotal:       tx.VATTotal,
		Total:          tx.Total,
		PaidOnCreation: tx.PaidOnCreation,
		PaidAmount:     tx.PaidAmount,
		PaymentMethod:  string(tx.PaymentMethod),
		Status:         string(tx.Status),
		Date:           tx.Date,
		DueDate:        tx.DueDate,
		Notes:          tx.Notes,
		CreatedBy:      tx.CreatedBy,
		Version:        tx.Version,
		CreatedAt:      tx.CreatedAt,
		UpdatedAt:      tx.UpdatedAt,
	}
	for _, item := range tx.Items {
		resp.Items = append(resp.Items, LineItemResponse{
			ID:          item.ID,
			ProductID:   item.ProductID,
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			VATRate:     item.VATRate,
			Discount:    item.Discount,
			LineTotal:   item.LineTotal,
		})
	}
	return resp
}

func toAllocationRecordResponses(records []*ledger.AllocationRecord) []AllocationRecordResponse {
	out := make([]AllocationRecordResponse, 0, len(records))
	for _, r := range records {
		out = append(out, AllocationRecordResponse{
			ID:                   r.ID,
			PaymentTransactionID: r.PaymentTransactionID,
			DebtTransactionID:    r.DebtTransactionID,
			Amount:               r.Amount,
			Kind:                 string(r.Kind),
			CreatedAt:            r.CreatedAt,
		})
	}
	return out
}

// settlementView is what audit records for paid amount changes
type settlementView struct {
	Code       string          `json:"code"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	Status     string          `json:"status"`
}

func viewSettlement(tx *ledger.Transaction) settlementView {
	return settlementView{Code: tx.Code, PaidAmount: tx.PaidAmount, Status: string(tx.Status)}
}

type partyView struct {
	Kind    string          `json:"kind"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
	Active  bool            `json:"active"`
}

func viewParty(p *ledger.Party) partyView {
	return partyView{Kind: string(p.Kind), Name: p.Name, Balance: p.Balance, Active: p.Active}
}
