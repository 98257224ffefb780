package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fairwaygolf/assetsync/internal/models"
	"gorm.io/gorm"
)

// Audit actions
const (
	ActionDeleteDuplicate = "delete_duplicate"
	ActionDeleteGhost     = "delete_ghost"
	ActionDeleteImage     = "delete_image"
	ActionMoveImage       = "move_image"
	ActionUploadImage     = "upload_image"
)

type AuditService struct {
	db *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{db: db}
}

// LogAction writes an audit entry. It uses tx when given so the entry commits
// with the change it describes.
func (s *AuditService) LogAction(ctx context.Context, tx *gorm.DB, actor, action, targetType, targetID string, details map[string]interface{}) error {
	if tx == nil {
		tx = s.db
	}
	detailsJSON := ""
	if details != nil {
		if jsonBytes, err := json.Marshal(details); err == nil {
			detailsJSON = string(jsonBytes)
		}
	}
	if actor == "" {
		actor = "system"
	}

	entry := &models.AuditLog{
		Actor:      actor,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Details:    detailsJSON,
	}
	return tx.WithContext(ctx).Create(entry).Error
}

// GetAuditLogs retrieves audit logs with optional filtering
func (s *AuditService) GetAuditLogs(ctx context.Context, action, targetID string, limit, offset int) ([]models.AuditLog, int64, error) {
	var logs []models.AuditLog
	var total int64

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})
	if action != "" {
		query = query.Where("action = ?", action)
	}
	if targetID != "" {
		query = query.Where("target_id = ?", targetID)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// GetActionCount returns the number of actions of a type since a given time
func (s *AuditService) GetActionCount(ctx context.Context, actor, action string, since time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.AuditLog{}).
		Where("actor = ? AND action = ? AND created_at > ?", actor, action, since).
		Count(&count).Error
	return count, err
}

func snapshot(rec *models.ImageMetadata) map[string]interface{} {
	return map[string]interface{}{
		"id":         rec.ID.String(),
		"filename":   rec.Filename,
		"file_path":  rec.FilePath,
		"cdn_url":    rec.CDNURLValue(),
		"ai_tags":    []string(rec.AITags),
		"image_type": rec.ImageType,
		"created_at": rec.CreatedAt,
	}
}
