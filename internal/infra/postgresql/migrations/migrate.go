package migrations

import (
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_notifications",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Notification{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_notifications_status_created ON notifications (status, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_site_status ON notifications (site, status)`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_updated_at ON notifications (updated_at) WHERE status NOT IN ('COMPLETED', 'FAILED')`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_download_task_id ON notifications (download_task_id) WHERE download_task_id IS NOT NULL`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Notification{})
			},
		},
		{
			ID: "000002_create_download_tasks",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.DownloadTask{}, &domain.DownloadItem{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_download_tasks_notification_id ON download_tasks (notification_id)`,
					`CREATE INDEX IF NOT EXISTS idx_download_items_task_id ON download_items (task_id)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.DownloadItem{}, &domain.DownloadTask{})
			},
		},
		{
			ID: "000003_create_credentials",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Credential{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_site_account ON credentials (site, account)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Credential{})
			},
		},
		{
			ID: "000004_create_login_attempts",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.LoginAttempt{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_login_attempts_site_account ON login_attempts (site, account, created_at)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.LoginAttempt{})
			},
		},
		{
			ID: "000005_create_schedules",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&domain.Schedule{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules (next_run_at) WHERE active`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Schedule{})
			},
		},
		{
			ID: "000006_create_cases",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&domain.Case{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&domain.Case{})
			},
		},
	})

	return m.Migrate()
}
