package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormAllocationRepository implements ledger.AllocationRepository. The
// history is append-only: corrections are new REVERSAL or ADJUSTMENT rows.
type GormAllocationRepository struct {
	db *gorm.DB
}

// NewGormAllocationRepository creates a new GormAllocationRepository
func NewGormAllocationRepository(db *gorm.DB) *GormAllocationRepository {
	return &GormAllocationRepository{db: db}
}

// Append inserts allocation records in one statement
func (r *GormAllocationRepository) Append(ctx context.Context, records ...*ledger.AllocationRecord) error {
	if len(records) == 0 {
		return nil
	}
	rows := make([]*models.AllocationRecordModel, 0, len(records))
	for _, rec := range records {
		rows = append(rows, models.AllocationRecordModelFromDomain(rec))
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// FindByPayment returns the records written for a payment
func (r *GormAllocationRepository) FindByPayment(ctx context.Context, paymentID uuid.UUID) ([]*ledger.AllocationRecord, error) {
	return r.find(r.db.WithContext(ctx).Where("payment_transaction_id = ?", paymentID))
}

// FindByDebt returns the records that touched a debt
func (r *GormAllocationRepository) FindByDebt(ctx context.Context, debtID uuid.UUID) ([]*ledger.AllocationRecord, error) {
	return r.find(r.db.WithContext(ctx).Where("debt_transaction_id = ?", debtID))
}

// FindByParty returns the whole allocation history of a party
func (r *GormAllocationRepository) FindByParty(ctx context.Context, ref ledger.PartyRef) ([]*ledger.AllocationRecord, error) {
	return r.find(r.db.WithContext(ctx).Where("party_kind = ? AND party_id = ?", ref.Kind, ref.ID))
}

func (r *GormAllocationRepository) find(query *gorm.DB) ([]*ledger.AllocationRecord, error) {
	var rows []models.AllocationRecordModel
	if err := query.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	records := make([]*ledger.AllocationRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].ToDomain())
	}
	return records, nil
}

var _ ledger.AllocationRepository = (*GormAllocationRepository)(nil)
