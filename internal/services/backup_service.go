package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mobiledetail/backend/internal/models"
	"github.com/mobiledetail/backend/internal/store"
)

// BackupPrefix is the key prefix of metadata snapshots in the backup bucket.
const BackupPrefix = "metadata/"

var ErrBackupDisabled = errors.New("backup bucket not configured")

// BackupBucket is the part of S3Service the backup service needs.
type BackupBucket interface {
	BackupEnabled() bool
	UploadBackup(ctx context.Context, key string, body io.Reader, ctype string) error
	ListBackups(ctx context.Context, prefix string) ([]BackupObject, error)
}

// BackupService snapshots the gallery metadata to the backup bucket and
// keeps a row per snapshot.
type BackupService struct {
	db     *gorm.DB
	store  store.MetadataStore
	bucket BackupBucket
	log    zerolog.Logger
	now    func() time.Time
}

func NewBackupService(db *gorm.DB, st store.MetadataStore, bucket BackupBucket, log zerolog.Logger) *BackupService {
	return &BackupService{
		db:     db,
		store:  st,
		bucket: bucket,
		log:    log.With().Str("service", "backup").Logger(),
		now:    time.Now,
	}
}

// SnapshotMetadata uploads the current records as one JSON array, the same
// format as metadata.json.
func (s *BackupService) SnapshotMetadata(ctx context.Context, backupType, createdBy string) (*models.Backup, error) {
	if s.bucket == nil || !s.bucket.BackupEnabled() {
		return nil, ErrBackupDisabled
	}

	started := s.now().UTC()
	stamp := started.Format("2006-01-02T15-04-05Z")
	backup := &models.Backup{
		Filename:  fmt.Sprintf("metadata_%s.json", stamp),
		S3Key:     BackupPrefix + stamp + ".json",
		Status:    models.BackupStatusInProgress,
		Type:      backupType,
		StartedAt: started,
		CreatedBy: createdBy,
	}
	if err := s.db.WithContext(ctx).Create(backup).Error; err != nil {
		return nil, fmt.Errorf("failed to create backup record: %w", err)
	}

	records, err := s.store.LoadAll(ctx)
	if err != nil {
		return s.fail(ctx, backup, fmt.Errorf("load metadata: %w", err))
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return s.fail(ctx, backup, fmt.Errorf("encode metadata: %w", err))
	}
	if err := s.bucket.UploadBackup(ctx, backup.S3Key, bytes.NewReader(data), "application/json"); err != nil {
		return s.fail(ctx, backup, fmt.Errorf("upload snapshot: %w", err))
	}

	completed := s.now().UTC()
	backup.Status = models.BackupStatusCompleted
	backup.CompletedAt = &completed
	backup.RecordCount = len(records)
	backup.SizeBytes = int64(len(data))
	if err := s.db.WithContext(ctx).Save(backup).Error; err != nil {
		return backup, fmt.Errorf("failed to update backup record: %w", err)
	}

	s.log.Info().Str("key", backup.S3Key).Int("records", backup.RecordCount).Int64("bytes", backup.SizeBytes).Msg("metadata snapshot uploaded")
	return backup, nil
}

func (s *BackupService) fail(ctx context.Context, backup *models.Backup, cause error) (*models.Backup, error) {
	completed := s.now().UTC()
	backup.Status = models.BackupStatusFailed
	backup.CompletedAt = &completed
	backup.ErrorMessage = cause.Error()
	if err := s.db.WithContext(context.WithoutCancel(ctx)).Save(backup).Error; err != nil {
		s.log.Error().Err(err).Str("backup_id", backup.ID.String()).Msg("failed to mark backup as failed")
	}
	s.log.Error().Err(cause).Str("key", backup.S3Key).Msg("metadata snapshot failed")
	return backup, cause
}

// ListBackups retrieves all backups with pagination, ordered by most recent first
func (s *BackupService) ListBackups(offset, limit int) ([]*models.Backup, int64, error) {
	var backups []*models.Backup
	var total int64

	if err := s.db.Model(&models.Backup{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := s.db.Offset(offset).Limit(limit).Order("created_at DESC").Find(&backups).Error; err != nil {
		return nil, 0, err
	}
	return backups, total, nil
}

// SyncFromS3 creates rows for snapshots found in the bucket that the
// database does not know about, e.g. after restoring a fresh database.
func (s *BackupService) SyncFromS3(ctx context.Context) (int, error) {
	if s.bucket == nil || !s.bucket.BackupEnabled() {
		return 0, ErrBackupDisabled
	}
	objects, err := s.bucket.ListBackups(ctx, BackupPrefix)
	if err != nil {
		return 0, fmt.Errorf("failed to list S3 objects: %w", err)
	}

	synced := 0
	for _, obj := range objects {
		filename := path.Base(obj.Key)
		if !strings.HasSuffix(filename, ".json") {
			continue
		}

		var existing models.Backup
		err := s.db.WithContext(ctx).Where("s3_key = ?", obj.Key).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return synced, err
		}

		modified := obj.LastModified
		backup := &models.Backup{
			Filename:    "metadata_" + filename,
			S3Key:       obj.Key,
			SizeBytes:   obj.Size,
			Status:      models.BackupStatusCompleted,
			Type:        models.BackupTypeAutomatic,
			StartedAt:   modified,
			CompletedAt: &modified,
		}
		if err := s.db.WithContext(ctx).Create(backup).Error; err != nil {
			return synced, fmt.Errorf("failed to create backup record: %w", err)
		}
		synced++
	}
	return synced, nil
}
