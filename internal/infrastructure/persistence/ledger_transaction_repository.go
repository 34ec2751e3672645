package persistence

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormTransactionRepository implements ledger.TransactionRepository using GORM
type GormTransactionRepository struct {
	db *gorm.DB
}

// NewGormTransactionRepository creates a new GormTransactionRepository
func NewGormTransactionRepository(db *gorm.DB) *GormTransactionRepository {
	return &GormTransactionRepository{db: db}
}

// partyColumn is the foreign key column holding the party of a transaction
func partyColumn(ref ledger.PartyRef) string {
	if ref.Kind == ledger.PartyKindSupplier {
		return "supplier_id"
	}
	return "customer_id"
}

// fifoOrder is the allocation order: oldest business date first, ties broken
// by insertion time and then code.
const fifoOrder = "date ASC, created_at ASC, code ASC"

// Create inserts the transaction and its line items
func (r *GormTransactionRepository) Create(ctx context.Context, tx *ledger.Transaction) error {
	model := &models.TransactionModel{}
	model.FromDomain(tx)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrDuplicateCode
		}
		return err
	}
	return nil
}

// FindByID loads a transaction with its items
func (r *GormTransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*ledger.Transaction, error) {
	var model models.TransactionModel
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// CodeExists checks the unique code index
func (r *GormTransactionRepository) CodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.TransactionModel{}).
		Where("code = ?", code).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// FindOutstandingDebts returns PENDING and PARTIAL debts of the party in
// FIFO order
func (r *GormTransactionRepository) FindOutstandingDebts(ctx context.Context, party ledger.PartyRef) ([]*ledger.Transaction, error) {
	return r.find(r.db.WithContext(ctx).
		Where(partyColumn(party)+" = ?", party.ID).
		Where("type IN ?", party.Kind.DebtTypes()).
		Where("status IN ?", []ledger.Status{ledger.StatusPending, ledger.StatusPartial}))
}

// FindDebts returns every non-cancelled debt of the party in FIFO order
func (r *GormTransactionRepository) FindDebts(ctx context.Context, party ledger.PartyRef) ([]*ledger.Transaction, error) {
	return r.find(r.db.WithContext(ctx).
		Where(partyColumn(party)+" = ?", party.ID).
		Where("type IN ?", party.Kind.DebtTypes()).
		Where("status <> ?", ledger.StatusCancelled))
}

// FindPayments returns every non-cancelled payment of the party in FIFO order
func (r *GormTransactionRepository) FindPayments(ctx context.Context, party ledger.PartyRef) ([]*ledger.Transaction, error) {
	return r.find(r.db.WithContext(ctx).
		Where(partyColumn(party)+" = ?", party.ID).
		Where("type = ?", party.Kind.PaymentType()).
		Where("status <> ?", ledger.StatusCancelled))
}

// FindByParty lists transactions of a party narrowed by filter
func (r *GormTransactionRepository) FindByParty(ctx context.Context, party ledger.PartyRef, filter ledger.TransactionFilter) ([]*ledger.Transaction, error) {
	query := r.db.WithContext(ctx).Where(partyColumn(party)+" = ?", party.ID)
	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}
	if filter.From != nil {
		query = query.Where("date >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("date <= ?", *filter.To)
	}
	if !filter.IncludeCancelled {
		query = query.Where("status <> ?", ledger.StatusCancelled)
	}
	return r.find(query)
}

func (r *GormTransactionRepository) find(query *gorm.DB) ([]*ledger.Transaction, error) {
	var rows []models.TransactionModel
	if err := query.Order(fifoOrder).Find(&rows).Error; err != nil {
		return nil, err
	}
	txs := make([]*ledger.Transaction, 0, len(rows))
	for i := range rows {
		txs = append(txs, rows[i].ToDomain())
	}
	return txs, nil
}

// UpdateSettlement writes paid amount and status with optimistic locking
func (r *GormTransactionRepository) UpdateSettlement(ctx context.Context, tx *ledger.Transaction) error {
	result := r.db.WithContext(ctx).
		Model(&models.TransactionModel{}).
		Where("id = ? AND version = ?", tx.ID, tx.Version-1).
		Updates(map[string]interface{}{
			"paid_amount": tx.PaidAmount,
			"status":      tx.Status,
			"version":     tx.Version,
			"updated_at":  tx.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledger.ErrSettlementConflict
	}
	return nil
}

// Ensure GormTransactionRepository implements TransactionRepository
var _ ledger.TransactionRepository = (*GormTransactionRepository)(nil)
