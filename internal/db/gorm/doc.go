// Package gorm persists tool invocation records and their daily rollups.
//
// Two backends are supported through the same GORM models:
//
//   - SQLite (default), opened with the pure-Go modernc.org/sqlite driver
//   - PostgreSQL, selected when the DSN starts with postgres://
//
// # Tables
//
// questions holds one append-only row per invocation. Every row carries a
// day column (YYYY-MM-DD, UTC) so per-date queries are identical on both
// backends.
//
// analytics holds one row per day. It is a cache over questions and is
// rebuilt from rows by AnalyticsStore.RefreshDaily; running the rollup twice
// for the same day yields the same row.
//
// # Usage
//
//	store, err := gorm.NewStore(gorm.Config{Path: "./data/pride_questions.db"})
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	questions := gorm.NewQuestionStore(store)
//	analytics := gorm.NewAnalyticsStore(store)
package gorm
