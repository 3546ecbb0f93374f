package common

import (
	"fmt"

	"github.com/cargoforge/registry/pkg/config"
	"github.com/cargoforge/registry/pkg/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Database wraps the GORM database connection backing the metadata store.
type Database struct {
	*gorm.DB
}

// NewDatabase opens the embedded SQLite metadata store at cfg.DatabasePath().
func NewDatabase(cfg *config.DataConfig) (*Database, error) {
	dsn := cfg.DatabasePath() + "?_journal_mode=WAL&_foreign_keys=on"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Bound the pool at 16 connections. SQLite allows exactly one writer at
	// a time, so concurrent writers are still serialized by its own lock.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(16)

	return &Database{DB: db}, nil
}

// Migrate runs the registry's schema migrations.
func (db *Database) Migrate() error {
	return db.AutoMigrate(
		&types.User{},
		&types.Token{},
		&types.Crate{},
		&types.Version{},
		&types.Ownership{},
	)
}

// Close closes the database connection.
func (db *Database) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
