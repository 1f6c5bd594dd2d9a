package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/comms-gateway/internal/repository"
	"gorm.io/gorm"
)

func createUsersAndDeviceTokensTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_users_and_device_tokens",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.UserModel{}, &repository.DeviceTokenModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_tenant_username ON users (tenant_id, username)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_device_tokens_tenant_token ON device_tokens (tenant_id, token)`,
				`CREATE INDEX IF NOT EXISTS idx_device_tokens_user ON device_tokens (tenant_id, user_id)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeviceTokenModel{}, &repository.UserModel{})
		},
	}
}
