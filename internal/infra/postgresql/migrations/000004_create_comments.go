package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/comms-gateway/internal/repository"
	"gorm.io/gorm"
)

func createCommentsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_comments",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(
				&repository.CommentModel{},
				&repository.ReplyModel{},
				&repository.MentionModel{},
			); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_comments_resource ON comments (tenant_id, resource_id, created_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_replies_comment ON replies (tenant_id, comment_id, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_mentions_user ON mentions (tenant_id, mentioned_user_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.MentionModel{},
				&repository.ReplyModel{},
				&repository.CommentModel{},
			)
		},
	}
}
