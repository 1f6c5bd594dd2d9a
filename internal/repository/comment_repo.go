package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/comms-gateway/internal/domain"
	"gorm.io/gorm"
)

type CommentFilter struct {
	TenantID   string
	ResourceID string
	Search     string
	Page       int
	PageSize   int
}

type CommentRepository interface {
	CreateComment(ctx context.Context, c *domain.Comment, mentions []domain.Mention) error
	GetComment(ctx context.Context, tenantID string, id string) (*domain.Comment, error)
	ListComments(ctx context.Context, filter CommentFilter) ([]domain.Comment, int64, error)
	DeleteComment(ctx context.Context, tenantID string, id string) error
	CreateReply(ctx context.Context, r *domain.Reply, mentions []domain.Mention) error
	ListReplies(ctx context.Context, tenantID string, commentID string) ([]domain.Reply, error)
}

type GormCommentRepo struct {
	db *gorm.DB
}

func NewGormCommentRepo(db *gorm.DB) *GormCommentRepo {
	return &GormCommentRepo{db: db}
}

func (r *GormCommentRepo) CreateComment(ctx context.Context, c *domain.Comment, mentions []domain.Mention) error {
	model := commentModelFromDomain(c)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return createMentions(tx, mentions)
	})
	if err != nil {
		return err
	}
	if c != nil {
		*c = *commentModelToDomain(model)
	}
	return nil
}

func (r *GormCommentRepo) GetComment(ctx context.Context, tenantID string, id string) (*domain.Comment, error) {
	var model CommentModel
	err := r.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return commentModelToDomain(&model), nil
}

func (r *GormCommentRepo) ListComments(ctx context.Context, filter CommentFilter) ([]domain.Comment, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&CommentModel{}).
		Where("tenant_id = ?", filter.TenantID)
	if filter.ResourceID != "" {
		query = query.Where("resource_id = ?", filter.ResourceID)
	}
	if filter.Search != "" {
		query = query.Where("content ILIKE ?", "%"+escapeLike(filter.Search)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page, pageSize := normalizePage(filter.Page, filter.PageSize)

	var models []CommentModel
	err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	comments := make([]domain.Comment, 0, len(models))
	for i := range models {
		comments = append(comments, *commentModelToDomain(&models[i]))
	}
	return comments, total, nil
}

func (r *GormCommentRepo) DeleteComment(ctx context.Context, tenantID string, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&CommentModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		if err := tx.Where("tenant_id = ? AND comment_id = ?", tenantID, id).Delete(&MentionModel{}).Error; err != nil {
			return err
		}
		return tx.Where("tenant_id = ? AND comment_id = ?", tenantID, id).Delete(&ReplyModel{}).Error
	})
}

func (r *GormCommentRepo) CreateReply(ctx context.Context, reply *domain.Reply, mentions []domain.Mention) error {
	model := replyModelFromDomain(reply)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&CommentModel{}).
			Where("tenant_id = ? AND id = ?", model.TenantID, model.CommentID).
			Update("reply_count", gorm.Expr("reply_count + 1"))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.ErrNotFound
		}
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		return createMentions(tx, mentions)
	})
	if err != nil {
		return err
	}
	if reply != nil {
		*reply = *replyModelToDomain(model)
	}
	return nil
}

func (r *GormCommentRepo) ListReplies(ctx context.Context, tenantID string, commentID string) ([]domain.Reply, error) {
	var models []ReplyModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND comment_id = ?", tenantID, commentID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	replies := make([]domain.Reply, 0, len(models))
	for i := range models {
		replies = append(replies, *replyModelToDomain(&models[i]))
	}
	return replies, nil
}

func createMentions(tx *gorm.DB, mentions []domain.Mention) error {
	if len(mentions) == 0 {
		return nil
	}

	models := make([]MentionModel, 0, len(mentions))
	for i := range mentions {
		models = append(models, *mentionModelFromDomain(&mentions[i]))
	}
	return tx.CreateInBatches(&models, 100).Error
}
