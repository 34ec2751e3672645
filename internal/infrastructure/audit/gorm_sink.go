package audit

import (
	"context"
	"fmt"
	"strings"

	"github.com/vetclinic/backend/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

// GormSink writes entries to the audit_logs table
type GormSink struct {
	db *gorm.DB
}

// NewGormSink creates a new GormSink
func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

// Write inserts the batch in one statement
func (s *GormSink) Write(ctx context.Context, entries []Entry) error {
	rows := make([]*models.AuditLogModel, 0, len(entries))
	for i := range entries {
		rows = append(rows, toModel(&entries[i]))
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to insert audit logs: %w", err)
	}
	return nil
}

func toModel(e *Entry) *models.AuditLogModel {
	return &models.AuditLogModel{
		ID:            e.ID,
		Table:         e.Table,
		RecordID:      e.RecordID,
		Action:        string(e.Action),
		Before:        e.Before,
		After:         e.After,
		ChangedFields: strings.Join(e.ChangedFields, ","),
		UserID:        e.Actor.UserID,
		UserEmail:     e.Actor.Email,
		UserName:      e.Actor.Name,
		IPAddress:     e.Actor.IPAddress,
		UserAgent:     e.Actor.UserAgent,
		RequestPath:   e.Actor.RequestPath,
		RequestMethod: e.Actor.RequestMethod,
		CreatedAt:     e.CreatedAt,
	}
}
