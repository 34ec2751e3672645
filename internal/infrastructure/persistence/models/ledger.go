package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vetclinic/backend/internal/domain/ledger"
)

// PartyModel stores the cached balance of a customer or supplier
type PartyModel struct {
	AggregateModel
	Kind    ledger.PartyKind `gorm:"type:varchar(20);not null;index:idx_party_kind_active,priority:1"`
	Name    string           `gorm:"type:varchar(200);not null"`
	Balance decimal.Decimal  `gorm:"type:decimal(18,2);not null;default:0"`
	Active  bool             `gorm:"not null;default:true;index:idx_party_kind_active,priority:2"`
}

// TableName returns the table name for GORM
func (PartyModel) TableName() string {
	return "parties"
}

// ToDomain converts the persistence model to a domain Party
func (m *PartyModel) ToDomain() *ledger.Party {
	return &ledger.Party{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Kind:              m.Kind,
		Name:              m.Name,
		Balance:           m.Balance,
		Active:            m.Active,
	}
}

// FromDomain populates the persistence model from a domain Party
func (m *PartyModel) FromDomain(p *ledger.Party) {
	m.FromDomainAggregateRoot(p.BaseAggregateRoot)
	m.Kind = p.Kind
	m.Name = p.Name
	m.Balance = p.Balance
	m.Active = p.Active
}

// TransactionModel is the persistence model for ledger transactions
type TransactionModel struct {
	AggregateModel
	Code           string                 `gorm:"type:varchar(50);not null;uniqueIndex:idx_transactions_code"`
	Type           ledger.TransactionType `gorm:"type:varchar(30);not null;index"`
	CustomerID     *uuid.UUID             `gorm:"type:uuid;index"`
	SupplierID     *uuid.UUID             `gorm:"type:uuid;index"`
	AnimalID       *uuid.UUID             `gorm:"type:uuid"`
	Subtotal       decimal.Decimal        `gorm:"type:decimal(18,2);not null"`
	Discount       decimal.Decimal        `gorm:"type:decimal(18,2);not null"`
	VATTotal       decimal.Decimal        `gorm:"column:vat_total;type:decimal(18,2);not null"`
	Total          decimal.Decimal        `gorm:"type:decimal(18,2);not null"`
	PaidOnCreation decimal.Decimal        `gorm:"type:decimal(18,2);not null"`
	PaidAmount     decimal.Decimal        `gorm:"type:decimal(18,2);not null"`
	PaymentMethod  ledger.PaymentMethod   `gorm:"type:varchar(20);not null"`
	Status         ledger.Status          `gorm:"type:varchar(20);not null;index"`
	Date           time.Time              `gorm:"not null;index"`
	DueDate        *time.Time
	Notes          string                 `gorm:"type:text"`
	CreatedBy      *uuid.UUID             `gorm:"type:uuid"`
	Items          []LineItemModel        `gorm:"foreignKey:TransactionID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (TransactionModel) TableName() string {
	return "transactions"
}

// ToDomain converts the persistence model to a domain Transaction
func (m *TransactionModel) ToDomain() *ledger.Transaction {
	tx := &ledger.Transaction{
		BaseAggregateRoot: m.ToDomainAggregateRoot(),
		Code:              m.Code,
		Type:              m.Type,
		CustomerID:        m.CustomerID,
		SupplierID:        m.SupplierID,
		AnimalID:          m.AnimalID,
		Subtotal:          m.Subtotal,
		Discount:          m.Discount,
		VATTotal:          m.VATTotal,
		Total:             m.Total,
		PaidOnCreation:    m.PaidOnCreation,
		PaidAmount:        m.PaidAmount,
		PaymentMethod:     m.PaymentMethod,
		Status:            m.Status,
		Date:              m.Date.UTC(),
		DueDate:           m.DueDate,
		Notes:             m.Notes,
		CreatedBy:         m.CreatedBy,
	}
	for i := range m.Items {
		tx.Items = append(tx.Items, m.Items[i].ToDomain())
	}
	return tx
}

// FromDomain populates the persistence model from a domain Transaction
func (m *TransactionModel) FromDomain(tx *ledger.Transaction) {
	m.FromDomainAggregateRoot(tx.BaseAggregateRoot)
	m.Code = tx.Code
	m.Type = tx.Type
	m.CustomerID = tx.CustomerID
	m.SupplierID = tx.SupplierID
	m.AnimalID = tx.AnimalID
	m.Subtotal = tx.Subtotal
	m.Discount = tx.Discount
	m.VATTotal = tx.VATTotal
	m.Total = tx.Total
	m.PaidOnCreation = tx.PaidOnCreation
	m.PaidAmount = tx.PaidAmount
	m.PaymentMethod = tx.PaymentMethod
	m.Status = tx.Status
	m.Date = tx.Date
	m.DueDate = tx.DueDate
	m.Notes = tx.Notes
	m.CreatedBy = tx.CreatedBy
	m.Items = make([]LineItemModel, 0, len(tx.Items))
	for _, item := range tx.Items {
		li := LineItemModel{}
		li.FromDomain(tx.ID, item)
		m.Items = append(m.Items, li)
	}
}

// LineItemModel is the persistence model for transaction line items
type LineItemModel struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TransactionID uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductID     *uuid.UUID      `gorm:"type:uuid;index"`
	Description   string          `gorm:"type:varchar(500)"`
	Quantity      decimal.Decimal `gorm:"type:decimal(18,3);not null"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	VATRate       decimal.Decimal `gorm:"column:vat_rate;type:decimal(5,2);not null"`
	Discount      decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	LineTotal     decimal.Decimal `gorm:"type:decimal(18,2);not null"`
}

// TableName returns the table name for GORM
func (LineItemModel) TableName() string {
	return "transaction_items"
}

// ToDomain converts the persistence model to a domain LineItem
func (m *LineItemModel) ToDomain() ledger.LineItem {
	return ledger.LineItem{
		ID:          m.ID,
		ProductID:   m.ProductID,
		Description: m.Description,
		Quantity:    m.Quantity,
		UnitPrice:   m.UnitPrice,
		VATRate:     m.VATRate,
		Discount:    m.Discount,
		LineTotal:   m.LineTotal,
	}
}

// FromDomain populates the persistence model from a domain LineItem
func (m *LineItemModel) FromDomain(transactionID uuid.UUID, item ledger.LineItem) {
	m.ID = item.ID
	m.TransactionID = transactionID
	m.ProductID = item.ProductID
	m.Description = item.Description
	m.Quantity = item.Quantity
	m.UnitPrice = item.UnitPrice
	m.VATRate = item.VATRate
	m.Discount = item.Discount
	m.LineTotal = item.LineTotal
}

// BalanceEntryModel is one row of the append-only balance stream
type BalanceEntryModel struct {
	ID            uuid.UUID               `gorm:"type:uuid;primaryKey"`
	PartyKind     ledger.PartyKind        `gorm:"type:varchar(20);not null;index:idx_balance_entries_party,priority:1"`
	PartyID       uuid.UUID               `gorm:"type:uuid;not null;index:idx_balance_entries_party,priority:2"`
	TransactionID *uuid.UUID              `gorm:"type:uuid;index"`
	Kind          ledger.BalanceEntryKind `gorm:"type:varchar(20);not null"`
	Amount        decimal.Decimal         `gorm:"type:decimal(18,2);not null"`
	BalanceAfter  decimal.Decimal         `gorm:"type:decimal(18,2);not null"`
	CreatedAt     time.Time               `gorm:"not null;index:idx_balance_entries_party,priority:3"`
}

// TableName returns the table name for GORM
func (BalanceEntryModel) TableName() string {
	return "balance_entries"
}

// ToDomain converts the persistence model to a domain BalanceEntry
func (m *BalanceEntryModel) ToDomain() *ledger.BalanceEntry {
	return &ledger.BalanceEntry{
		ID:            m.ID,
		PartyKind:     m.PartyKind,
		PartyID:       m.PartyID,
		TransactionID: m.TransactionID,
		Kind:          m.Kind,
		Amount:        m.Amount,
		BalanceAfter:  m.BalanceAfter,
		CreatedAt:     m.CreatedAt,
	}
}

// BalanceEntryModelFromDomain creates a persistence model from a domain BalanceEntry
func BalanceEntryModelFromDomain(e *ledger.BalanceEntry) *BalanceEntryModel {
	return &BalanceEntryModel{
		ID:            e.ID,
		PartyKind:     e.PartyKind,
		PartyID:       e.PartyID,
		TransactionID: e.TransactionID,
		Kind:          e.Kind,
		Amount:        e.Amount,
		BalanceAfter:  e.BalanceAfter,
		CreatedAt:     e.CreatedAt,
	}
}

// AllocationRecordModel is one row of the append-only allocation history
type AllocationRecordModel struct {
	ID                   uuid.UUID             `gorm:"type:uuid;primaryKey"`
	PaymentTransactionID uuid.UUID             `gorm:"type:uuid;not null;index"`
	DebtTransactionID    uuid.UUID             `gorm:"type:uuid;not null;index"`
	PartyKind            ledger.PartyKind      `gorm:"type:varchar(20);not null;index:idx_allocation_records_party,priority:1"`
	PartyID              uuid.UUID             `gorm:"type:uuid;not null;index:idx_allocation_records_party,priority:2"`
	Amount               decimal.Decimal       `gorm:"type:decimal(18,2);not null"`
	Kind                 ledger.AllocationKind `gorm:"type:varchar(20);not null"`
	CreatedAt            time.Time             `gorm:"not null"`
}

// TableName returns the table name for GORM
func (AllocationRecordModel) TableName() string {
	return "allocation_records"
}

// ToDomain converts the persistence model to a domain AllocationRecord
func (m *AllocationRecordModel) ToDomain() *ledger.AllocationRecord {
	return &ledger.AllocationRecord{
		ID:                   m.ID,
		PaymentTransactionID: m.PaymentTransactionID,
		DebtTransactionID:    m.DebtTransactionID,
		PartyKind:            m.PartyKind,
		PartyID:              m.PartyID,
		Amount:               m.Amount,
		Kind:                 m.Kind,
		CreatedAt:            m.CreatedAt,
	}
}

// AllocationRecordModelFromDomain creates a persistence model from a domain AllocationRecord
func AllocationRecordModelFromDomain(r *ledger.AllocationRecord) *AllocationRecordModel {
	return &AllocationRecordModel{
		ID:                   r.ID,
		PaymentTransactionID: r.PaymentTransactionID,
		DebtTransactionID:    r.DebtTransactionID,
		PartyKind:            r.PartyKind,
		PartyID:              r.PartyID,
		Amount:               r.Amount,
		Kind:                 r.Kind,
		CreatedAt:            r.CreatedAt,
	}
}
