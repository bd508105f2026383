package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/quillsign/quillsign/internal/repository"
)

func createDocumentsAndSignersTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_documents_and_signers",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DocumentModel{}, &repository.SignerModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_documents_batch_id ON documents (batch_id) WHERE batch_id IS NOT NULL`,
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_signers_signing_token ON signers (signing_token)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.SignerModel{}, &repository.DocumentModel{})
		},
	}
}
