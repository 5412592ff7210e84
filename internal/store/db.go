// Package store is the index store (spec.md §4.2, component C2): a
// gorm-over-SQLite persistence layer for the cached file table, the
// directory tree, and every transfer session. Grounded in
// marmos91-dittofs's pkg/controlplane/store/gorm.go for the
// glebarez/sqlite-over-gorm wiring pattern.
//
// All writes are serialized behind a single process-wide mutex (spec.md §5:
// "Exactly one in-flight writer against the local database"); SQLite itself
// only allows one writer, but the mutex also gives call sites a place to
// hang multi-statement transactions without interleaving from other
// goroutines.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Store wraps a *gorm.DB with the write-serialization mutex spec.md §5
// requires.
type Store struct {
	db *gorm.DB
	mu sync.Mutex
}

// Open creates (if needed) the parent directory and opens the SQLite
// database at path, migrating every table in AllModels.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	// SQLite only supports one writer at a time; pairing this with our own
	// mutex avoids "database is locked" errors under concurrent engines.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// WithTx runs fn inside a single transaction while holding the write mutex,
// rolling back on any returned error. Every batch write in this package
// goes through this helper so a failure can never leave a partial commit,
// per spec.md §4.2.
func (s *Store) WithTx(fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Transaction(fn)
}

// DB returns the underlying *gorm.DB for read-only queries that don't need
// the write mutex. Callers performing writes must use WithTx instead.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
