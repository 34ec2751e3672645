package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"
	appledger "github.com/vetclinic/backend/internal/application/ledger"
	"github.com/vetclinic/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormReminders stores payment reminders. One reminder exists per
// transaction and type; repeats are ignored.
type GormReminders struct {
	db *gorm.DB
}

// NewGormReminders creates a new GormReminders
func NewGormReminders(db *gorm.DB) *GormReminders {
	return &GormReminders{db: db}
}

// CreateReminder inserts the reminder unless it already exists
func (g *GormReminders) CreateReminder(ctx context.Context, req appledger.ReminderRequest) error {
	return g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.ReminderModel{
			ID:            uuid.New(),
			Type:          req.Type,
			TransactionID: req.TransactionID,
			PartyKind:     string(req.PartyKind),
			PartyID:       req.PartyID,
			AnimalID:      req.AnimalID,
			Title:         req.Title,
			Amount:        req.Amount,
			DueDate:       req.DueDate,
			Status:        "PENDING",
			CreatedAt:     time.Now().UTC(),
		}).Error
}

var _ appledger.Reminders = (*GormReminders)(nil)
