package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	BackupStatusInProgress = "in_progress"
	BackupStatusCompleted  = "completed"
	BackupStatusFailed     = "failed"

	BackupTypeAutomatic = "automatic"
	BackupTypeManual    = "manual"
)

// Backup records one metadata snapshot uploaded to the backup bucket.
type Backup struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Filename     string     `gorm:"not null" json:"filename"` // e.g. metadata_2025-01-15T03-00-00Z.json
	S3Key        string     `gorm:"not null" json:"s3_key"`   // e.g. metadata/2025-01-15T03-00-00Z.json
	RecordCount  int        `json:"record_count"`
	SizeBytes    int64      `json:"size_bytes"`
	Status       string     `gorm:"not null;default:'in_progress'" json:"status"`
	Type         string     `gorm:"not null;default:'automatic'" json:"type"`
	StartedAt    time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedBy    string     `json:"created_by,omitempty"` // admin email for manual snapshots
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (b *Backup) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now()
	}
	return nil
}
