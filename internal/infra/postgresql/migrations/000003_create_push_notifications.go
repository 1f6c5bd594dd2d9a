package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/comms-gateway/internal/repository"
	"gorm.io/gorm"
)

func createPushNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_push_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PushNotificationModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_push_notifications_inbox ON push_notifications (tenant_id, user_id, created_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_push_notifications_unread ON push_notifications (tenant_id, user_id) WHERE is_read = false`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PushNotificationModel{})
		},
	}
}
