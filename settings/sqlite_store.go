package settings

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// settingRow is the single-table schema backing SQLiteStore: a plain
// key/value row, continuing the teacher's `deps.Deps{DB *gorm.DB}`
// pattern (teacher held a *gorm.DB for its document store; this spec
// gives gorm+sqlite an actual table to own).
type settingRow struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// SQLiteStore is the reference persisted-settings backend: a
// single-table sqlite database managed by gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLiteStore opens (creating if necessary) a sqlite-backed
// settings store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("settings: open sqlite store: %w", err)
	}
	if err := db.AutoMigrate(&settingRow{}); err != nil {
		return nil, fmt.Errorf("settings: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(key Key) (string, bool) {
	var row settingRow
	if err := s.db.First(&row, "key = ?", string(key)).Error; err != nil {
		return "", false
	}
	return row.Value, true
}

// Set implements Store. It upserts on the key's primary key, since
// gorm's plain Save only updates an existing row and silently no-ops
// for a key that has never been written.
func (s *SQLiteStore) Set(key Key, value string) error {
	row := settingRow{Key: string(key), Value: value}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&row).Error
}
