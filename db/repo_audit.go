package db

import (
	"context"
	"fmt"

	"lab_visit_tracker/models"

	"github.com/google/uuid"
)

const (
	AuditReturnItem   = "return_item"
	AuditDeleteVisit  = "delete_visit"
	AuditImportRoster = "import_roster"
	AuditDeleteItem   = "delete_item"
	AuditDeleteAdmin  = "delete_admin"
	AuditInviteAdmin  = "invite_admin"
)

func (r *Repo) LogAdminAction(ctx context.Context, actorID, actorUsername, action, targetID string, detail *string) (*models.AuditLog, error) {
	entry := &models.AuditLog{
		ID:            uuid.NewString(),
		ActorID:       actorID,
		ActorUsername: actorUsername,
		Action:        action,
		TargetID:      targetID,
		Detail:        detail,
	}
	if err := r.DB.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("insert audit log: %w", err)
	}
	return entry, nil
}

func (r *Repo) ListAuditLog(ctx context.Context, page, size int) ([]models.AuditLog, int64, error) {
	page, size = normalizePage(page, size, 200)
	q := r.DB.WithContext(ctx).Model(&models.AuditLog{})
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.AuditLog
	err := q.Order("created_at DESC").Offset((page - 1) * size).Limit(size).Find(&out).Error
	return out, total, err
}
