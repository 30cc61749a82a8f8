package services

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mobiledetail/backend/internal/models"
)

type AuditService struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewAuditService(db *gorm.DB, log zerolog.Logger) *AuditService {
	return &AuditService{
		db:  db,
		log: log.With().Str("service", "audit").Logger(),
	}
}

// LogAction logs an admin action to the audit log
func (s *AuditService) LogAction(actor, action, targetType, targetID string, details map[string]interface{}, ipAddress, userAgent string) error {
	detailsJSON := ""
	if details != nil {
		if jsonBytes, err := json.Marshal(details); err == nil {
			detailsJSON = string(jsonBytes)
		}
	}

	entry := &models.AuditLog{
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    detailsJSON,
		IPAddress:  ipAddress,
		UserAgent:  userAgent,
	}
	if err := s.db.Create(entry).Error; err != nil {
		s.log.Error().Err(err).Str("action", action).Str("target_id", targetID).Msg("failed to write audit log")
		return err
	}
	return nil
}

// GetRecentActions retrieves recent admin actions with pagination
func (s *AuditService) GetRecentActions(page, limit int, actor, action string) ([]*models.AuditLog, int64, error) {
	var logs []*models.AuditLog
	var total int64

	query := s.db.Model(&models.AuditLog{})
	if actor != "" {
		query = query.Where("actor = ?", actor)
	}
	if action != "" {
		query = query.Where("action = ?", action)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// GetActionCount returns the count of actions in a time window
func (s *AuditService) GetActionCount(actor, action string, since time.Time) (int64, error) {
	var count int64
	err := s.db.Model(&models.AuditLog{}).
		Where("actor = ? AND action = ? AND created_at > ?", actor, action, since).
		Count(&count).Error
	return count, err
}
