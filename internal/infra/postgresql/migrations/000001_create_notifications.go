package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/mail-courier/internal/repository"
	"gorm.io/gorm"
)

func createNotifications() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
				return err
			}

			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_notifications_status_updated ON notifications (status, updated_at)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_application ON notifications (application)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_tracking_id ON notifications (tracking_id)`,
				`CREATE INDEX IF NOT EXISTS idx_notifications_send_on ON notifications (send_on_utc) WHERE send_on_utc IS NOT NULL`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable("notifications")
		},
	}
}
