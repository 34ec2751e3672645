package event

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vetclinic/backend/internal/domain/shared"
	"github.com/vetclinic/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOutboxRepository implements OutboxRepository using GORM
type GormOutboxRepository struct {
	db *gorm.DB
}

// NewGormOutboxRepository creates a new GORM-based outbox repository
func NewGormOutboxRepository(db *gorm.DB) *GormOutboxRepository {
	return &GormOutboxRepository{db: db}
}

// Save persists one or more outbox entries
func (r *GormOutboxRepository) Save(ctx context.Context, entries ...*shared.OutboxEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]*models.OutboxEntryModel, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, models.OutboxEntryModelFromDomain(e))
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// FindPending retrieves pending entries up to the specified limit
func (r *GormOutboxRepository) FindPending(ctx context.Context, limit int) ([]*shared.OutboxEntry, error) {
	return r.find(r.db.WithContext(ctx).
		Where("status = ?", shared.OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit))
}

// FindRetryable retrieves failed entries that are due for retry
func (r *GormOutboxRepository) FindRetryable(ctx context.Context, before time.Time, limit int) ([]*shared.OutboxEntry, error) {
	return r.find(r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", shared.OutboxStatusFailed, before).
		Order("next_retry_at ASC").
		Limit(limit))
}

// MarkProcessing claims entries for this worker and returns the ones it got.
// Rows locked by another worker are skipped.
func (r *GormOutboxRepository) MarkProcessing(ctx context.Context, ids []uuid.UUID) ([]*shared.OutboxEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var entries []*shared.OutboxEntry
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.OutboxEntryModel
		if err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("id IN ? AND status IN ?", ids, []shared.OutboxStatus{
				shared.OutboxStatusPending,
				shared.OutboxStatusFailed,
			}).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		claimed := make([]uuid.UUID, len(rows))
		for i := range rows {
			claimed[i] = rows[i].ID
		}
		now := time.Now().UTC()
		if err := tx.Model(&models.OutboxEntryModel{}).
			Where("id IN ?", claimed).
			Updates(map[string]interface{}{
				"status":     shared.OutboxStatusProcessing,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		for i := range rows {
			e := rows[i].ToDomain()
			e.Status = shared.OutboxStatusProcessing
			e.UpdatedAt = now
			entries = append(entries, e)
		}
		return nil
	})
	return entries, err
}

// Update writes the delivery state of an entry
func (r *GormOutboxRepository) Update(ctx context.Context, entry *shared.OutboxEntry) error {
	entry.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(models.OutboxEntryModelFromDomain(entry)).Error
}

// DeleteOlderThan deletes delivered entries processed before the cutoff
func (r *GormOutboxRepository) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", shared.OutboxStatusSent, before).
		Delete(&models.OutboxEntryModel{})
	return result.RowsAffected, result.Error
}

// ReleaseStale returns entries stuck in PROCESSING since before the cutoff
// to the retry queue. A worker that died mid-delivery leaves such rows.
func (r *GormOutboxRepository) ReleaseStale(ctx context.Context, before time.Time) (int64, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.OutboxEntryModel{}).
		Where("status = ? AND updated_at < ?", shared.OutboxStatusProcessing, before).
		Updates(map[string]interface{}{
			"status":        shared.OutboxStatusFailed,
			"next_retry_at": now,
			"updated_at":    now,
		})
	return result.RowsAffected, result.Error
}

// FindDead retrieves dead letter entries with pagination
func (r *GormOutboxRepository) FindDead(ctx context.Context, page, pageSize int) ([]*shared.OutboxEntry, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.OutboxEntryModel{}).
		Where("status = ?", shared.OutboxStatusDead).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	entries, err := r.find(r.db.WithContext(ctx).
		Where("status = ?", shared.OutboxStatusDead).
		Order("updated_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize))
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// FindByID retrieves a single outbox entry by ID
func (r *GormOutboxRepository) FindByID(ctx context.Context, id uuid.UUID) (*shared.OutboxEntry, error) {
	var row models.OutboxEntryModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return row.ToDomain(), nil
}

// Requeue moves a dead letter back to PENDING
func (r *GormOutboxRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	entry, err := r.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := entry.ResetForRetry(); err != nil {
		return shared.NewDomainError("INVALID_STATE", err.Error())
	}
	return r.Update(ctx, entry)
}

// CountByStatus returns count of entries for each status
func (r *GormOutboxRepository) CountByStatus(ctx context.Context) (map[shared.OutboxStatus]int64, error) {
	type statusCount struct {
		Status shared.OutboxStatus
		Count  int64
	}

	var results []statusCount
	if err := r.db.WithContext(ctx).
		Model(&models.OutboxEntryModel{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&results).Error; err != nil {
		return nil, err
	}

	counts := make(map[shared.OutboxStatus]int64)
	for _, c := range results {
		counts[c.Status] = c.Count
	}
	return counts, nil
}

func (r *GormOutboxRepository) find(query *gorm.DB) ([]*shared.OutboxEntry, error) {
	var rows []models.OutboxEntryModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]*shared.OutboxEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].ToDomain())
	}
	return entries, nil
}

// Ensure GormOutboxRepository implements OutboxRepository
var _ shared.OutboxRepository = (*GormOutboxRepository)(nil)
