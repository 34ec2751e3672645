package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLogModel is one recorded change
type AuditLogModel struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Table         string     `gorm:"column:table_name;type:varchar(50);not null;index:idx_audit_logs_record,priority:1"`
	RecordID      uuid.UUID  `gorm:"type:uuid;not null;index:idx_audit_logs_record,priority:2"`
	Action        string     `gorm:"type:varchar(10);not null"`
	Before        []byte     `gorm:"type:jsonb"`
	After         []byte     `gorm:"type:jsonb"`
	ChangedFields string     `gorm:"type:text"`
	UserID        *uuid.UUID `gorm:"type:uuid;index"`
	UserEmail     string     `gorm:"type:varchar(200)"`
	UserName      string     `gorm:"type:varchar(200)"`
	IPAddress     string     `gorm:"type:varchar(64)"`
	UserAgent     string     `gorm:"type:varchar(500)"`
	RequestPath   string     `gorm:"type:varchar(500)"`
	RequestMethod string     `gorm:"type:varchar(10)"`
	CreatedAt     time.Time  `gorm:"not null;index"`
}

// TableName returns the table name for GORM
func (AuditLogModel) TableName() string {
	return "audit_logs"
}
