package ledger_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appledger "github.com/vetclinic/backend/internal/application/ledger"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/persistence"
	"github.com/vetclinic/backend/internal/infrastructure/persistence/models"
	"go.uber.org/zap"
)

// deliverPending hands every pending outbox entry to the side effect
// handler and marks it sent, like one pass of the outbox processor.
func (f *fixture) deliverPending(t *testing.T, handler *appledger.SideEffectHandler) int {
	t.Helper()
	var rows []models.OutboxEntryModel
	require.NoError(t, f.db.Where("status = ?", shared.OutboxStatusPending).Order("created_at").Find(&rows).Error)

	topics := handler.Topics()
	for i := range rows {
		entry := rows[i].ToDomain()
		deliver, ok := topics[entry.Topic]
		require.True(t, ok, "no handler for %s", entry.Topic)
		require.NoError(t, deliver(context.Background(), entry))
		require.NoError(t, f.db.Model(&models.OutboxEntryModel{}).
			Where("id = ?", entry.ID).
			Update("status", shared.OutboxStatusSent).Error)
	}
	return len(rows)
}

func (f *fixture) product(t *testing.T, name string, isService bool, stock string) uuid.UUID {
	t.Helper()
	p := &models.ProductModel{ID: uuid.New(), Name: name, IsService: isService, Stock: money(stock)}
	require.NoError(t, f.db.Create(p).Error)
	return p.ID
}

func (f *fixture) stock(t *testing.T, id uuid.UUID) decimal.Decimal {
	t.Helper()
	var p models.ProductModel
	require.NoError(t, f.db.Where("id = ?", id).First(&p).Error)
	return p.Stock
}

func TestSideEffects_StockFollowsTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	handler := appledger.NewSideEffectHandler(persistence.NewGormInventory(f.db), persistence.NewGormReminders(f.db), zap.NewNop())

	ref := f.customer(t, "Ana Costa")
	id := ref.ID
	food := f.product(t, "kibble 2kg", false, "10")
	grooming := f.product(t, "grooming", true, "0")
	discontinued := uuid.New()

	sale, err := f.svc.CreateTransaction(ctx, appledger.CreateTransactionCommand{
		Type:       ledger.TransactionTypeSale,
		CustomerID: &id,
		Items: []appledger.LineItemCommand{
			{ProductID: &food, Quantity: decimal.NewFromInt(2), UnitPrice: money("15")},
			{ProductID: &food, Quantity: decimal.NewFromInt(1), UnitPrice: money("15")},
			{ProductID: &grooming, Quantity: decimal.NewFromInt(1), UnitPrice: money("25")},
			{ProductID: &discontinued, Quantity: decimal.NewFromInt(1), UnitPrice: money("5")},
		},
		PaidAmount: money("75"),
		Date:       day(1),
	})
	require.NoError(t, err)

	// one entry per distinct product
	assert.Equal(t, 3, f.deliverPending(t, handler))
	assertMoney(t, "7", f.stock(t, food))
	assertMoney(t, "0", f.stock(t, grooming))

	// redelivery of an applied adjustment is a no-op
	var rows []models.OutboxEntryModel
	require.NoError(t, f.db.Where("topic = ?", appledger.TopicInventoryAdjust).Find(&rows).Error)
	for i := range rows {
		require.NoError(t, handler.HandleStockAdjustment(ctx, rows[i].ToDomain()))
	}
	assertMoney(t, "7", f.stock(t, food))

	_, err = f.svc.CancelTransaction(ctx, appledger.CancelTransactionCommand{TransactionID: sale.ID})
	require.NoError(t, err)
	assert.Equal(t, 3, f.deliverPending(t, handler))
	assertMoney(t, "10", f.stock(t, food))

	var movements int64
	require.NoError(t, f.db.Model(&models.StockMovementModel{}).Where("product_id = ?", food).Count(&movements).Error)
	assert.Equal(t, int64(2), movements)
}

func TestSideEffects_PurchaseAddsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	handler := appledger.NewSideEffectHandler(persistence.NewGormInventory(f.db), persistence.NewGormReminders(f.db), zap.NewNop())

	ref := f.supplier(t, "Pet Pharma")
	id := ref.ID
	vaccine := f.product(t, "rabies vaccine", false, "3")

	_, err := f.svc.CreateTransaction(ctx, appledger.CreateTransactionCommand{
		Type:       ledger.TransactionTypePurchase,
		SupplierID: &id,
		Items:      []appledger.LineItemCommand{{ProductID: &vaccine, Quantity: decimal.NewFromInt(20), UnitPrice: money("8")}},
		Date:       day(1),
	})
	require.NoError(t, err)

	f.deliverPending(t, handler)
	assertMoney(t, "23", f.stock(t, vaccine))
}

func TestSideEffects_PaymentDueReminder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	handler := appledger.NewSideEffectHandler(persistence.NewGormInventory(f.db), persistence.NewGormReminders(f.db), zap.NewNop())

	ref := f.customer(t, "Ana Costa")
	id := ref.ID
	animal := uuid.New()
	due := day(31)

	debt, err := f.svc.CreateTransaction(ctx, appledger.CreateTransactionCommand{
		Type:       ledger.TransactionTypeTreatment,
		CustomerID: &id,
		AnimalID:   &animal,
		Items:      []appledger.LineItemCommand{{Description: "surgery", Quantity: decimal.NewFromInt(1), UnitPrice: money("300")}},
		PaidAmount: money("100"),
		Date:       day(1),
		DueDate:    &due,
	})
	require.NoError(t, err)

	// paid in full at the counter: no reminder
	_, err = f.svc.CreateTransaction(ctx, appledger.CreateTransactionCommand{
		Type:       ledger.TransactionTypeTreatment,
		CustomerID: &id,
		Items:      []appledger.LineItemCommand{{Description: "checkup", Quantity: decimal.NewFromInt(1), UnitPrice: money("30")}},
		PaidAmount: money("30"),
		DueDate:    &due,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.deliverPending(t, handler))

	var reminders []models.ReminderModel
	require.NoError(t, f.db.Find(&reminders).Error)
	require.Len(t, reminders, 1)
	r := reminders[0]
	assert.Equal(t, appledger.ReminderTypePaymentDue, r.Type)
	assert.Equal(t, debt.ID, r.TransactionID)
	assert.Equal(t, &animal, r.AnimalID)
	assertMoney(t, "200", r.Amount)
	assert.Contains(t, r.Title, debt.Code)

	// at-least-once delivery must not duplicate the reminder
	var rows []models.OutboxEntryModel
	require.NoError(t, f.db.Where("topic = ?", appledger.TopicReminderCreate).Find(&rows).Error)
	require.Len(t, rows, 1)
	require.NoError(t, handler.HandleReminder(ctx, rows[0].ToDomain()))

	var count int64
	require.NoError(t, f.db.Model(&models.ReminderModel{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestSideEffects_MalformedPayload(t *testing.T) {
	handler := appledger.NewSideEffectHandler(nil, nil, zap.NewNop())
	entry := shared.NewOutboxEntry(appledger.TopicInventoryAdjust, uuid.New(), []byte("{not json"))

	assert.Error(t, handler.HandleStockAdjustment(context.Background(), entry))
	entry.Topic = appledger.TopicReminderCreate
	assert.Error(t, handler.HandleReminder(context.Background(), entry))
}
