package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// addDeliveryLogReplayColumns stores the full message and the retry schedule
// on each delivery log. Databases created after this change already have the
// columns from 000001, hence IF NOT EXISTS.
func addDeliveryLogReplayColumns() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_add_delivery_log_replay_columns",
		Migrate: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`ALTER TABLE delivery_logs ADD COLUMN IF NOT EXISTS html_body text NOT NULL DEFAULT ''`,
				`ALTER TABLE delivery_logs ADD COLUMN IF NOT EXISTS data jsonb`,
				`ALTER TABLE delivery_logs ADD COLUMN IF NOT EXISTS priority varchar(10) NOT NULL DEFAULT ''`,
				`ALTER TABLE delivery_logs ADD COLUMN IF NOT EXISTS next_retry_at timestamptz`,
				`CREATE INDEX IF NOT EXISTS idx_delivery_logs_due_retry ON delivery_logs (channel, next_retry_at) WHERE status = 'failed' AND next_retry_at IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return execAll(tx, []string{
				`DROP INDEX IF EXISTS idx_delivery_logs_due_retry`,
				`ALTER TABLE delivery_logs DROP COLUMN IF EXISTS next_retry_at`,
				`ALTER TABLE delivery_logs DROP COLUMN IF EXISTS priority`,
				`ALTER TABLE delivery_logs DROP COLUMN IF EXISTS data`,
				`ALTER TABLE delivery_logs DROP COLUMN IF EXISTS html_body`,
			})
		},
	}
}
