package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/mail-courier/internal/repository"
	"gorm.io/gorm"
)

func createDeliveryAttempts() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_delivery_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryAttemptModel{}); err != nil {
				return err
			}

			return tx.Exec(
				`CREATE INDEX IF NOT EXISTS idx_delivery_attempts_notification ON delivery_attempts (notification_id, attempt_number)`,
			).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable("delivery_attempts")
		},
	}
}
