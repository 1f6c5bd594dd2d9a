package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByID(ctx context.Context, tenantID string, id string) (*domain.User, error)
	FindByUsernames(ctx context.Context, tenantID string, usernames []string) ([]domain.User, error)
}

type DeviceTokenRepository interface {
	Upsert(ctx context.Context, d *domain.DeviceToken) error
	ListTokens(ctx context.Context, tenantID string, userID string) ([]string, error)
	Delete(ctx context.Context, tenantID string, token string) error
}

type GormUserRepo struct {
	db *gorm.DB
}

func NewGormUserRepo(db *gorm.DB) *GormUserRepo {
	return &GormUserRepo{db: db}
}

func (r *GormUserRepo) Create(ctx context.Context, u *domain.User) error {
	model := userModelFromDomain(u)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return translateWriteError(err)
	}
	if u != nil {
		*u = *userModelToDomain(model)
	}
	return nil
}

func (r *GormUserRepo) GetByID(ctx context.Context, tenantID string, id string) (*domain.User, error) {
	var model UserModel
	err := r.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return userModelToDomain(&model), nil
}

func (r *GormUserRepo) FindByUsernames(ctx context.Context, tenantID string, usernames []string) ([]domain.User, error) {
	if len(usernames) == 0 {
		return nil, nil
	}

	var models []UserModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND username IN ?", tenantID, usernames).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	users := make([]domain.User, 0, len(models))
	for i := range models {
		users = append(users, *userModelToDomain(&models[i]))
	}
	return users, nil
}

type GormDeviceTokenRepo struct {
	db *gorm.DB
}

func NewGormDeviceTokenRepo(db *gorm.DB) *GormDeviceTokenRepo {
	return &GormDeviceTokenRepo{db: db}
}

// Upsert registers a token, moving it to the given user when it was already
// registered to someone else in the tenant.
func (r *GormDeviceTokenRepo) Upsert(ctx context.Context, d *domain.DeviceToken) error {
	model := deviceTokenModelFromDomain(d)
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "token"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform"}),
		}).
		Create(model).Error
	if err != nil {
		return err
	}
	if d != nil {
		*d = *deviceTokenModelToDomain(model)
	}
	return nil
}

func (r *GormDeviceTokenRepo) ListTokens(ctx context.Context, tenantID string, userID string) ([]string, error) {
	var tokens []string
	err := r.db.WithContext(ctx).
		Model(&DeviceTokenModel{}).
		Where("tenant_id = ? AND user_id = ?", tenantID, userID).
		Order("created_at ASC").
		Pluck("token", &tokens).Error
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func (r *GormDeviceTokenRepo) Delete(ctx context.Context, tenantID string, token string) error {
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND token = ?", tenantID, token).
		Delete(&DeviceTokenModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
