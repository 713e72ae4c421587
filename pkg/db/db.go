// Package db owns the sqlite conversation store: the gorm models, the
// connection, and the schema lifecycle.
package db

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/sparkyapp/sparky/pkg/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens (or creates) the sqlite database at path and brings the schema
// up to date via EnsureSchema.
func Open(path string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	if err := EnsureSchema(gdb); err != nil {
		return nil, err
	}

	return gdb, nil
}

// EnsureSchema probes for the expected message schema and creates the tables.
//
// If a messages table exists without the session_id column (a pre-session
// layout), BOTH tables are dropped and recreated. This is an irreversible
// migration-by-reset: the old history is discarded, matching the store's
// documented schema-compatibility rule.
func EnsureSchema(gdb *gorm.DB) error {
	logger := utils.GetLogger()
	m := gdb.Migrator()

	if m.HasTable(&Message{}) && !m.HasColumn(&Message{}, "session_id") {
		logger.Warn("Message schema mismatch detected, resetting chat history")
		if err := m.DropTable(&Message{}, &Session{}); err != nil {
			return fmt.Errorf("drop stale tables: %w", err)
		}
	}

	if err := gdb.AutoMigrate(&Session{}, &Message{}); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
