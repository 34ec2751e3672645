package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	appledger "github.com/vetclinic/backend/internal/application/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormInventory applies ledger stock adjustments to the products table
type GormInventory struct {
	db *gorm.DB
}

// NewGormInventory creates a new GormInventory
func NewGormInventory(db *gorm.DB) *GormInventory {
	return &GormInventory{db: db}
}

// IsService reports whether the product is a service without stock.
// Unknown products return shared.ErrNotFound.
func (g *GormInventory) IsService(ctx context.Context, productID uuid.UUID) (bool, error) {
	var product models.ProductModel
	if err := g.db.WithContext(ctx).
		Select("id", "is_service").
		Where("id = ?", productID).
		First(&product).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, shared.ErrNotFound
		}
		return false, err
	}
	return product.IsService, nil
}

// AdjustStock moves product stock by delta. A movement with the same
// (product, reference) pair is applied once; repeats are no-ops.
func (g *GormInventory) AdjustStock(ctx context.Context, productID uuid.UUID, delta decimal.Decimal, reason, reference string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		movement := &models.StockMovementModel{
			ID:        uuid.New(),
			ProductID: productID,
			Reference: reference,
			Delta:     delta,
			Reason:    reason,
			CreatedAt: time.Now().UTC(),
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(movement)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}

		update := tx.Model(&models.ProductModel{}).
			Where("id = ?", productID).
			Updates(map[string]interface{}{
				"stock":      gorm.Expr("stock + ?", delta),
				"updated_at": time.Now().UTC(),
			})
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return shared.ErrNotFound
		}
		return nil
	})
}

var _ appledger.Inventory = (*GormInventory)(nil)
