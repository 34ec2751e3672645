package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appledger "github.com/vetclinic/backend/internal/application/ledger"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/persistence/models"
)

func TestGormInventory_AdjustStockIsIdempotent(t *testing.T) {
	db := setupLedgerTestDB(t)
	inv := NewGormInventory(db)
	ctx := context.Background()

	product := &models.ProductModel{ID: uuid.New(), Name: "Dewormer", Stock: money("10"), UpdatedAt: time.Now().UTC()}
	require.NoError(t, db.Create(product).Error)

	require.NoError(t, inv.AdjustStock(ctx, product.ID, money("-3"), "SALE", "STS-1"))
	require.NoError(t, inv.AdjustStock(ctx, product.ID, money("-3"), "SALE", "STS-1"))
	require.NoError(t, inv.AdjustStock(ctx, product.ID, money("3"), "SALE_CANCELLED", "STS-1-CANCEL"))
	require.NoError(t, inv.AdjustStock(ctx, product.ID, money("-2"), "SALE", "STS-2"))

	var stored models.ProductModel
	require.NoError(t, db.First(&stored, "id = ?", product.ID).Error)
	assert.Equal(t, "8.000", stored.Stock.StringFixed(3))

	var movements int64
	require.NoError(t, db.Model(&models.StockMovementModel{}).Count(&movements).Error)
	assert.Equal(t, int64(3), movements)
}

func TestGormInventory_UnknownProduct(t *testing.T) {
	db := setupLedgerTestDB(t)
	inv := NewGormInventory(db)
	ctx := context.Background()

	_, err := inv.IsService(ctx, uuid.New())
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.ErrorIs(t, inv.AdjustStock(ctx, uuid.New(), money("1"), "PURCHASE", "ALS-1"), shared.ErrNotFound)
}

func TestGormInventory_IsService(t *testing.T) {
	db := setupLedgerTestDB(t)
	service := &models.ProductModel{ID: uuid.New(), Name: "Grooming", IsService: true, UpdatedAt: time.Now().UTC()}
	require.NoError(t, db.Create(service).Error)

	isService, err := NewGormInventory(db).IsService(context.Background(), service.ID)
	require.NoError(t, err)
	assert.True(t, isService)
}

func TestGormReminders_CreateReminderOncePerTransaction(t *testing.T) {
	db := setupLedgerTestDB(t)
	reminders := NewGormReminders(db)
	ctx := context.Background()

	req := appledger.ReminderRequest{
		Type:          appledger.ReminderTypePaymentDue,
		DueDate:       day(20),
		PartyKind:     ledger.PartyKindCustomer,
		PartyID:       uuid.New(),
		TransactionID: uuid.New(),
		Title:         "Payment due for STS-1",
		Amount:        money("45"),
	}
	require.NoError(t, reminders.CreateReminder(ctx, req))
	require.NoError(t, reminders.CreateReminder(ctx, req))

	var rows []models.ReminderModel
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, "PENDING", rows[0].Status)
	assert.Equal(t, req.TransactionID, rows[0].TransactionID)
}
