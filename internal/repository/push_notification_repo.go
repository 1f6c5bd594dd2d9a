package repository

import (
	"context"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"gorm.io/gorm"
)

type InboxQuery struct {
	TenantID   string
	UserID     string
	UnreadOnly bool
	Page       int
	PageSize   int
}

type PushNotificationRepository interface {
	Create(ctx context.Context, n *domain.PushNotification) error
	ListByUser(ctx context.Context, query InboxQuery) ([]domain.PushNotification, int64, error)
	MarkRead(ctx context.Context, tenantID string, userID string, id string) error
	CountUnread(ctx context.Context, tenantID string, userID string) (int64, error)
}

type GormPushNotificationRepo struct {
	db *gorm.DB
}

func NewGormPushNotificationRepo(db *gorm.DB) *GormPushNotificationRepo {
	return &GormPushNotificationRepo{db: db}
}

func (r *GormPushNotificationRepo) Create(ctx context.Context, n *domain.PushNotification) error {
	model := pushNotificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *pushNotificationModelToDomain(model)
	}
	return nil
}

func (r *GormPushNotificationRepo) ListByUser(ctx context.Context, q InboxQuery) ([]domain.PushNotification, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&PushNotificationModel{}).
		Where("tenant_id = ? AND user_id = ?", q.TenantID, q.UserID)
	if q.UnreadOnly {
		query = query.Where("is_read = ?", false)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(q.Page, q.PageSize)

	var models []PushNotificationModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	notifications := make([]domain.PushNotification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *pushNotificationModelToDomain(&models[i]))
	}
	return notifications, total, nil
}

// MarkRead flips is_read to true. Already read rows stay read; there is no
// way back to unread.
func (r *GormPushNotificationRepo) MarkRead(ctx context.Context, tenantID string, userID string, id string) error {
	result := r.db.WithContext(ctx).
		Model(&PushNotificationModel{}).
		Where("id = ? AND tenant_id = ? AND user_id = ?", id, tenantID, userID).
		Update("is_read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormPushNotificationRepo) CountUnread(ctx context.Context, tenantID string, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&PushNotificationModel{}).
		Where("tenant_id = ? AND user_id = ? AND is_read = ?", tenantID, userID, false).
		Count(&count).Error
	return count, err
}
