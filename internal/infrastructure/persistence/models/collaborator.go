package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProductModel is the slice of the catalog the ledger needs for stock
// adjustments. Catalog CRUD lives elsewhere.
type ProductModel struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Name      string          `gorm:"type:varchar(200);not null"`
	IsService bool            `gorm:"not null;default:false"`
	Stock     decimal.Decimal `gorm:"type:decimal(18,3);not null;default:0"`
	UpdatedAt time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ProductModel) TableName() string {
	return "products"
}

// StockMovementModel records one applied stock delta. The unique
// (product, reference) pair makes redelivered adjustments no-ops.
type StockMovementModel struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	ProductID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_stock_movements_reference,priority:1"`
	Reference string          `gorm:"type:varchar(100);not null;uniqueIndex:idx_stock_movements_reference,priority:2"`
	Delta     decimal.Decimal `gorm:"type:decimal(18,3);not null"`
	Reason    string          `gorm:"type:varchar(50);not null"`
	CreatedAt time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (StockMovementModel) TableName() string {
	return "stock_movements"
}

// ReminderModel is a scheduled follow-up created from a ledger event
type ReminderModel struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Type          string          `gorm:"type:varchar(30);not null;uniqueIndex:idx_reminders_transaction_type,priority:2"`
	TransactionID uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_reminders_transaction_type,priority:1"`
	PartyKind     string          `gorm:"type:varchar(20);not null"`
	PartyID       uuid.UUID       `gorm:"type:uuid;not null;index"`
	AnimalID      *uuid.UUID      `gorm:"type:uuid"`
	Title         string          `gorm:"type:varchar(200);not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	DueDate       time.Time       `gorm:"not null;index"`
	Status        string          `gorm:"type:varchar(20);not null;default:'PENDING'"`
	CreatedAt     time.Time       `gorm:"not null"`
}

// TableName returns the table name for GORM
func (ReminderModel) TableName() string {
	return "reminders"
}
