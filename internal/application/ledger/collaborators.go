package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vetclinic/backend/internal/domain/ledger"
	"github.com/vetclinic/backend/internal/domain/shared"
	"go.uber.org/zap"
)

// Outbox topics for side effects of ledger writes
const (
	TopicInventoryAdjust = "inventory.adjust"
	TopicReminderCreate  = "reminder.create"
)

// ReminderTypePaymentDue is the reminder created for unpaid debts with a due date
const ReminderTypePaymentDue = "PAYMENT_DUE"

// Inventory is the stock subsystem. AdjustStock must be idempotent on
// (productID, reference) because outbox delivery is at-least-once.
type Inventory interface {
	IsService(ctx context.Context, productID uuid.UUID) (bool, error)
	AdjustStock(ctx context.Context, productID uuid.UUID, delta decimal.Decimal, reason, reference string) error
}

// Reminders is the scheduling subsystem
type Reminders interface {
	CreateReminder(ctx context.Context, req ReminderRequest) error
}

// AuditRecorder receives change records after commit. Implementations must
// not block and must not fail the caller.
type AuditRecorder interface {
	RecordCreate(ctx context.Context, table string, recordID uuid.UUID, after any, actor shared.Actor)
	RecordUpdate(ctx context.Context, table string, recordID uuid.UUID, before, after any, actor shared.Actor)
	RecordDelete(ctx context.Context, table string, recordID uuid.UUID, before any, actor shared.Actor)
}

// StockAdjustment is the payload of TopicInventoryAdjust
type StockAdjustment struct {
	TransactionID uuid.UUID       `json:"transaction_id"`
	ProductID     uuid.UUID       `json:"product_id"`
	Delta         decimal.Decimal `json:"delta"`
	Reason        string          `json:"reason"`
	Reference     string          `json:"reference"`
}

// ReminderRequest is the payload of TopicReminderCreate
type ReminderRequest struct {
	Type          string           `json:"type"`
	DueDate       time.Time        `json:"due_date"`
	PartyKind     ledger.PartyKind `json:"party_kind"`
	PartyID       uuid.UUID        `json:"party_id"`
	AnimalID      *uuid.UUID       `json:"animal_id,omitempty"`
	TransactionID uuid.UUID        `json:"transaction_id"`
	Title         string           `json:"title"`
	Amount        decimal.Decimal  `json:"amount"`
}

// stockEntries builds one outbox entry per product. sign is +1 when the
// transaction takes effect and -1 when it is cancelled.
func stockEntries(tx *ledger.Transaction, sign int, reference string) ([]*shared.OutboxEntry, error) {
	direction := tx.Type.StockDirection() * sign
	if direction == 0 {
		return nil, nil
	}

	deltas := make(map[uuid.UUID]decimal.Decimal)
	order := make([]uuid.UUID, 0, len(tx.Items))
	for _, item := range tx.Items {
		if item.ProductID == nil {
			continue
		}
		id := *item.ProductID
		if _, seen := deltas[id]; !seen {
			order = append(order, id)
		}
		deltas[id] = deltas[id].Add(item.Quantity.Mul(decimal.NewFromInt(int64(direction))))
	}

	reason := string(tx.Type)
	if sign < 0 {
		reason += "_CANCELLED"
	}

	entries := make([]*shared.OutboxEntry, 0, len(order))
	for _, id := range order {
		payload, err := json.Marshal(StockAdjustment{
			TransactionID: tx.ID,
			ProductID:     id,
			Delta:         deltas[id],
			Reason:        reason,
			Reference:     reference,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode stock adjustment: %w", err)
		}
		entries = append(entries, shared.NewOutboxEntry(TopicInventoryAdjust, tx.ID, payload))
	}
	return entries, nil
}

// reminderEntry returns nil when the debt needs no reminder
func reminderEntry(tx *ledger.Transaction) (*shared.OutboxEntry, error) {
	if tx.DueDate == nil || tx.Status == ledger.StatusPaid || !tx.Type.IsDebt() {
		return nil, nil
	}
	party := tx.Party()
	payload, err := json.Marshal(ReminderRequest{
		Type:          ReminderTypePaymentDue,
		DueDate:       *tx.DueDate,
		PartyKind:     party.Kind,
		PartyID:       party.ID,
		AnimalID:      tx.AnimalID,
		TransactionID: tx.ID,
		Title:         fmt.Sprintf("Payment due for %s", tx.Code),
		Amount:        tx.Outstanding(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode reminder: %w", err)
	}
	return shared.NewOutboxEntry(TopicReminderCreate, tx.ID, payload), nil
}

// SideEffectHandler delivers outbox entries to the collaborators
type SideEffectHandler struct {
	inventory Inventory
	reminders Reminders
	logger    *zap.Logger
}

// NewSideEffectHandler creates a new SideEffectHandler
func NewSideEffectHandler(inventory Inventory, reminders Reminders, logger *zap.Logger) *SideEffectHandler {
	return &SideEffectHandler{
		inventory: inventory,
		reminders: reminders,
		logger:    logger,
	}
}

// Topics maps each outbox topic to its delivery function
func (h *SideEffectHandler) Topics() map[string]func(ctx context.Context, entry *shared.OutboxEntry) error {
	return map[string]func(ctx context.Context, entry *shared.OutboxEntry) error{
		TopicInventoryAdjust: h.HandleStockAdjustment,
		TopicReminderCreate:  h.HandleReminder,
	}
}

// HandleStockAdjustment applies a stock delta. Service products carry no
// stock and are skipped, as are products the catalog no longer knows.
func (h *SideEffectHandler) HandleStockAdjustment(ctx context.Context, entry *shared.OutboxEntry) error {
	var adj StockAdjustment
	if err := json.Unmarshal(entry.Payload, &adj); err != nil {
		return fmt.Errorf("failed to decode stock adjustment: %w", err)
	}

	isService, err := h.inventory.IsService(ctx, adj.ProductID)
	if errors.Is(err, shared.ErrNotFound) {
		h.logger.Warn("skipping stock adjustment for unknown product",
			zap.String("product_id", adj.ProductID.String()),
			zap.String("reference", adj.Reference),
		)
		return nil
	}
	if err != nil {
		return err
	}
	if isService {
		return nil
	}

	return h.inventory.AdjustStock(ctx, adj.ProductID, adj.Delta, adj.Reason, adj.Reference)
}

// HandleReminder creates a payment-due reminder
func (h *SideEffectHandler) HandleReminder(ctx context.Context, entry *shared.OutboxEntry) error {
	var req ReminderRequest
	if err := json.Unmarshal(entry.Payload, &req); err != nil {
		return fmt.Errorf("failed to decode reminder: %w", err)
	}
	return h.reminders.CreateReminder(ctx, req)
}
