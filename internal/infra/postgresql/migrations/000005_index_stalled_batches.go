package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func indexStalledBatches() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_index_stalled_batches",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_batches_status_updated ON batches (status, updated_at) WHERE pending_count > 0`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_batches_status_updated`).Error
		},
	}
}
