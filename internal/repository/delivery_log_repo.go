package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// DeliveryLogFilter narrows List queries. TenantID is mandatory, the rest optional.
type DeliveryLogFilter struct {
	TenantID    string
	Channel     *domain.Channel
	Status      *domain.DeliveryStatus
	Destination string
	Provider    string
	From        *time.Time
	To          *time.Time
	Page        int
	PageSize    int
}

// StatusUpdate is applied by UpdateStatus and BulkUpdateStatus. The row only
// moves when its current status is a legal predecessor of Status.
type StatusUpdate struct {
	Status            domain.DeliveryStatus
	ProviderMessageID *string
	ErrorDetail       *string
	// NextRetryAt only applies to failed updates. Any other status clears it.
	NextRetryAt *time.Time
}

// RetryQuery selects failed logs to re-attempt.
type RetryQuery struct {
	// TenantID is optional; empty matches every tenant.
	TenantID string
	Channel  domain.Channel
	Since    time.Time
	// MaxAttempts excludes logs that already used that many attempts. Zero
	// disables the cap.
	MaxAttempts int
	// DueBy restricts the query to logs scheduled for retry at or before it,
	// soonest first. When nil, logs come oldest first.
	DueBy *time.Time
	Limit int
}

type DeliveryLogRepository interface {
	Create(ctx context.Context, l *domain.DeliveryLog) error
	GetByID(ctx context.Context, id string) (*domain.DeliveryLog, error)
	UpdateStatus(ctx context.Context, id string, update StatusUpdate) error
	BulkUpdateStatus(ctx context.Context, ids []string, update StatusUpdate) (int64, error)
	List(ctx context.Context, filter DeliveryLogFilter) ([]domain.DeliveryLog, int64, error)
	ListFailedForRetry(ctx context.Context, q RetryQuery) ([]domain.DeliveryLog, error)
	ListStalePending(ctx context.Context, channel domain.Channel, olderThan time.Time, limit int) ([]domain.DeliveryLog, error)
	DeleteOlderThan(ctx context.Context, tenantID string, channel domain.Channel, cutoff time.Time, statuses []domain.DeliveryStatus) (int64, error)
	CountByStatus(ctx context.Context, tenantID string, channel domain.Channel) (map[domain.DeliveryStatus]int64, error)
	Delete(ctx context.Context, tenantID string, id string) error
	DeleteByIDs(ctx context.Context, tenantID string, ids []string) (int64, error)
}

type GormDeliveryLogRepo struct {
	db *gorm.DB
}

func NewGormDeliveryLogRepo(db *gorm.DB) *GormDeliveryLogRepo {
	return &GormDeliveryLogRepo{db: db}
}

func (r *GormDeliveryLogRepo) Create(ctx context.Context, l *domain.DeliveryLog) error {
	model := deliveryLogModelFromDomain(l)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if l != nil {
		*l = *deliveryLogModelToDomain(model)
	}
	return nil
}

func (r *GormDeliveryLogRepo) GetByID(ctx context.Context, id string) (*domain.DeliveryLog, error) {
	var model DeliveryLogModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deliveryLogModelToDomain(&model), nil
}

func (r *GormDeliveryLogRepo) UpdateStatus(ctx context.Context, id string, update StatusUpdate) error {
	from := update.Status.Predecessors()
	if len(from) == 0 {
		return domain.ErrInvalidTransition
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryLogModel{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(statusUpdateColumns(update))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&DeliveryLogModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrInvalidTransition
}

func (r *GormDeliveryLogRepo) BulkUpdateStatus(ctx context.Context, ids []string, update StatusUpdate) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	from := update.Status.Predecessors()
	if len(from) == 0 {
		return 0, domain.ErrInvalidTransition
	}

	result := r.db.WithContext(ctx).
		Model(&DeliveryLogModel{}).
		Where("id IN ? AND status IN ?", ids, from).
		Updates(statusUpdateColumns(update))
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func statusUpdateColumns(update StatusUpdate) map[string]any {
	columns := map[string]any{
		"status":        update.Status,
		"error_detail":  update.ErrorDetail,
		"next_retry_at": nil,
	}
	switch update.Status {
	case domain.DeliverySent:
		columns["provider_message_id"] = update.ProviderMessageID
		columns["error_detail"] = nil
	case domain.DeliveryFailed:
		columns["next_retry_at"] = update.NextRetryAt
	case domain.DeliveryPending:
		columns["attempt_count"] = gorm.Expr("attempt_count + 1")
		columns["error_detail"] = nil
	}
	return columns
}

func (r *GormDeliveryLogRepo) List(ctx context.Context, filter DeliveryLogFilter) ([]domain.DeliveryLog, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&DeliveryLogModel{}).
		Where("tenant_id = ?", filter.TenantID)

	if filter.Channel != nil {
		query = query.Where("channel = ?", *filter.Channel)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Destination != "" {
		query = query.Where("destination ILIKE ?", "%"+escapeLike(filter.Destination)+"%")
	}
	if filter.Provider != "" {
		query = query.Where("provider = ?", filter.Provider)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at <= ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)

	var models []DeliveryLogModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	return deliveryLogsToDomain(models), total, nil
}

func (r *GormDeliveryLogRepo) ListFailedForRetry(ctx context.Context, q RetryQuery) ([]domain.DeliveryLog, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND channel = ? AND created_at >= ?", domain.DeliveryFailed, q.Channel, q.Since)
	if q.TenantID != "" {
		query = query.Where("tenant_id = ?", q.TenantID)
	}
	if q.MaxAttempts > 0 {
		query = query.Where("attempt_count < ?", q.MaxAttempts)
	}
	if q.DueBy != nil {
		query = query.
			Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", *q.DueBy).
			Order("next_retry_at ASC")
	}

	var models []DeliveryLogModel
	err := query.
		Order("created_at ASC").
		Limit(q.Limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveryLogsToDomain(models), nil
}

func (r *GormDeliveryLogRepo) ListStalePending(
	ctx context.Context,
	channel domain.Channel,
	olderThan time.Time,
	limit int,
) ([]domain.DeliveryLog, error) {
	var models []DeliveryLogModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND channel = ? AND created_at < ?", domain.DeliveryPending, channel, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return deliveryLogsToDomain(models), nil
}

// DeleteOlderThan removes rows created before cutoff. Pending is silently
// dropped from statuses so in-flight attempts are never purged.
func (r *GormDeliveryLogRepo) DeleteOlderThan(
	ctx context.Context,
	tenantID string,
	channel domain.Channel,
	cutoff time.Time,
	statuses []domain.DeliveryStatus,
) (int64, error) {
	eligible := make([]domain.DeliveryStatus, 0, len(statuses))
	for _, status := range statuses {
		if status.IsRetentionEligible() {
			eligible = append(eligible, status)
		}
	}
	if len(eligible) == 0 {
		return 0, nil
	}

	query := r.db.WithContext(ctx).
		Where("channel = ? AND created_at < ? AND status IN ?", channel, cutoff, eligible)
	if tenantID != "" {
		query = query.Where("tenant_id = ?", tenantID)
	}

	result := query.Delete(&DeliveryLogModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

type statusCountRow struct {
	Status domain.DeliveryStatus `gorm:"column:status"`
	Count  int64                 `gorm:"column:count"`
}

func (r *GormDeliveryLogRepo) CountByStatus(
	ctx context.Context,
	tenantID string,
	channel domain.Channel,
) (map[domain.DeliveryStatus]int64, error) {
	var rows []statusCountRow
	err := r.db.WithContext(ctx).
		Model(&DeliveryLogModel{}).
		Select("status, COUNT(*) as count").
		Where("tenant_id = ? AND channel = ?", tenantID, channel).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[domain.DeliveryStatus]int64{
		domain.DeliveryPending: 0,
		domain.DeliverySent:    0,
		domain.DeliveryFailed:  0,
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *GormDeliveryLogRepo) Delete(ctx context.Context, tenantID string, id string) error {
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&DeliveryLogModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeliveryLogRepo) DeleteByIDs(ctx context.Context, tenantID string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Delete(&DeliveryLogModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func deliveryLogsToDomain(models []DeliveryLogModel) []domain.DeliveryLog {
	logs := make([]domain.DeliveryLog, 0, len(models))
	for i := range models {
		logs = append(logs, *deliveryLogModelToDomain(&models[i]))
	}
	return logs
}

func normalizePage(page int, pageSize int) (int, int) {
	page = max(page, 1)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	return page, min(pageSize, maxPageSize)
}
