package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/comms-gateway/internal/repository"
	"gorm.io/gorm"
)

func createDeliveryLogsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_delivery_logs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryLogModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_delivery_logs_tenant_channel_created ON delivery_logs (tenant_id, channel, created_at DESC)`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_logs_retry ON delivery_logs (channel, created_at) WHERE status = 'failed'`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_logs_retention ON delivery_logs (channel, created_at) WHERE status <> 'pending'`,
				`ALTER TABLE delivery_logs ADD CONSTRAINT chk_delivery_logs_status CHECK (status IN ('pending', 'sent', 'failed'))`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryLogModel{})
		},
	}
}
