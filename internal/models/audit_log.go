package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Admin actions recorded in the audit log.
const (
	ActionAdminLogin     = "admin_login"
	ActionImageUpload    = "image_upload"
	ActionImageEdit      = "image_edit"
	ActionImageDelete    = "image_delete"
	ActionOrphanSweep    = "orphan_sweep"
	ActionMetadataBackup = "metadata_backup"
)

// AuditLog represents an admin action log entry
type AuditLog struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Actor      string    `gorm:"type:varchar(255);not null;index" json:"actor"`
	Action     string    `gorm:"type:varchar(100);not null;index" json:"action"`
	TargetType string    `gorm:"type:varchar(50);not null" json:"target_type"` // e.g. "image", "backup"
	TargetID   string    `gorm:"type:varchar(64)" json:"target_id,omitempty"`
	Details    string    `gorm:"type:text" json:"details,omitempty"` // JSON string with additional info
	IPAddress  string    `gorm:"type:varchar(45)" json:"ip_address,omitempty"`
	UserAgent  string    `gorm:"type:text" json:"user_agent,omitempty"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
