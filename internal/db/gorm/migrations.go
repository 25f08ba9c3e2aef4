package gorm

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs all database migrations using gormigrate.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: append-only invocation records
		{
			ID: "001_questions",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&QuestionRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("questions")
			},
		},

		// Migration 002: per-day rollups
		{
			ID: "002_analytics",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&AnalyticsRow{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("analytics")
			},
		},

		// Migration 003: composite index for per-user listings
		{
			ID: "003_questions_user_day_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec("CREATE INDEX IF NOT EXISTS idx_questions_user_day ON questions(user_id, day)").Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_questions_user_day").Error
			},
		},

		// Migration 004: daily report marker, survives restarts
		{
			ID: "004_analytics_reported_at",
			Migrate: func(tx *gorm.DB) error {
				if tx.Migrator().HasColumn(&AnalyticsRow{}, "ReportedAt") {
					return nil
				}
				return tx.Migrator().AddColumn(&AnalyticsRow{}, "ReportedAt")
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropColumn(&AnalyticsRow{}, "ReportedAt")
			},
		},
	})

	return m.Migrate()
}
