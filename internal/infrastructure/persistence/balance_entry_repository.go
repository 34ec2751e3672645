package persistence

import (
	"context"

	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormBalanceEntryRepository implements ledger.BalanceEntryRepository.
// Rows are only ever inserted.
type GormBalanceEntryRepository struct {
	db *gorm.DB
}

// NewGormBalanceEntryRepository creates a new GormBalanceEntryRepository
func NewGormBalanceEntryRepository(db *gorm.DB) *GormBalanceEntryRepository {
	return &GormBalanceEntryRepository{db: db}
}

// Append inserts one balance movement
func (r *GormBalanceEntryRepository) Append(ctx context.Context, entry *ledger.BalanceEntry) error {
	return r.db.WithContext(ctx).Create(models.BalanceEntryModelFromDomain(entry)).Error
}

// FindByParty returns the balance stream of a party in insertion order
func (r *GormBalanceEntryRepository) FindByParty(ctx context.Context, ref ledger.PartyRef) ([]*ledger.BalanceEntry, error) {
	var rows []models.BalanceEntryModel
	if err := r.db.WithContext(ctx).
		Where("party_kind = ? AND party_id = ?", ref.Kind, ref.ID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]*ledger.BalanceEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].ToDomain())
	}
	return entries, nil
}

var _ ledger.BalanceEntryRepository = (*GormBalanceEntryRepository)(nil)
