package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormPartyRepository implements ledger.PartyRepository using GORM
type GormPartyRepository struct {
	db *gorm.DB
}

// NewGormPartyRepository creates a new GormPartyRepository
func NewGormPartyRepository(db *gorm.DB) *GormPartyRepository {
	return &GormPartyRepository{db: db}
}

// FindByRef loads a party without locking it
func (r *GormPartyRepository) FindByRef(ctx context.Context, ref ledger.PartyRef) (*ledger.Party, error) {
	return r.findOne(r.db.WithContext(ctx), ref)
}

// FindForUpdate loads a party with SELECT ... FOR UPDATE. Every ledger write
// takes this lock first, so writes for one party are serialized while
// different parties proceed in parallel.
func (r *GormPartyRepository) FindForUpdate(ctx context.Context, ref ledger.PartyRef) (*ledger.Party, error) {
	return r.findOne(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), ref)
}

func (r *GormPartyRepository) findOne(query *gorm.DB, ref ledger.PartyRef) (*ledger.Party, error) {
	var model models.PartyModel
	if err := query.
		Where("id = ? AND kind = ?", ref.ID, ref.Kind).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrPartyNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// Register inserts a new party, or refreshes name and active flag of an
// existing one. The stored balance is never overwritten. On return party
// mirrors the stored row.
func (r *GormPartyRepository) Register(ctx context.Context, party *ledger.Party) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.PartyModel
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", party.ID).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			model := &models.PartyModel{}
			model.FromDomain(party)
			if err := tx.Create(model).Error; err != nil {
				if isUniqueViolation(err) {
					return shared.ErrConcurrencyConflict
				}
				return err
			}
			return nil
		}
		if err != nil {
			return err
		}
		if existing.Kind != party.Kind {
			return shared.NewDomainError("ALREADY_EXISTS", "id is already registered as "+string(existing.Kind))
		}

		if existing.Name != party.Name || !existing.Active {
			existing.Name = party.Name
			existing.Active = true
			existing.Version++
			existing.UpdatedAt = time.Now().UTC()
			if err := tx.Model(&models.PartyModel{}).
				Where("id = ?", existing.ID).
				Updates(map[string]interface{}{
					"name":       existing.Name,
					"active":     true,
					"version":    existing.Version,
					"updated_at": existing.UpdatedAt,
				}).Error; err != nil {
				return err
			}
		}
		*party = *existing.ToDomain()
		return nil
	})
}

// UpdateBalance writes the cached balance and active flag with optimistic
// locking
func (r *GormPartyRepository) UpdateBalance(ctx context.Context, party *ledger.Party) error {
	result := r.db.WithContext(ctx).
		Model(&models.PartyModel{}).
		Where("id = ? AND version = ?", party.ID, party.Version-1).
		Updates(map[string]interface{}{
			"balance":    party.Balance,
			"active":     party.Active,
			"version":    party.Version,
			"updated_at": party.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ledger.ErrBalanceConflict
	}
	return nil
}

// ListActive returns active parties, optionally of one kind
func (r *GormPartyRepository) ListActive(ctx context.Context, kind *ledger.PartyKind) ([]*ledger.Party, error) {
	query := r.db.WithContext(ctx).Where("active = ?", true)
	if kind != nil {
		query = query.Where("kind = ?", *kind)
	}
	return r.list(query.Order("kind ASC, created_at ASC, id ASC"))
}

// ListWithPositiveBalance returns active parties of kind with a balance
// above zero, largest first
func (r *GormPartyRepository) ListWithPositiveBalance(ctx context.Context, kind ledger.PartyKind) ([]*ledger.Party, error) {
	return r.list(r.db.WithContext(ctx).
		Where("kind = ? AND active = ? AND balance > ?", kind, true, 0).
		Order("balance DESC, id ASC"))
}

func (r *GormPartyRepository) list(query *gorm.DB) ([]*ledger.Party, error) {
	var rows []models.PartyModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	parties := make([]*ledger.Party, 0, len(rows))
	for i := range rows {
		parties = append(parties, rows[i].ToDomain())
	}
	return parties, nil
}

// Ensure GormPartyRepository implements PartyRepository
var _ ledger.PartyRepository = (*GormPartyRepository)(nil)
