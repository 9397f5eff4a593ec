// Package database persists the audit trail in a local SQLite file.
package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps the gorm handle. Constructed once in main and passed to the
// handlers that record events.
type Store struct {
	db *gorm.DB
}

// Open creates (or opens) the SQLite database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := db.AutoMigrate(&AuditEvent{}); err != nil {
		return nil, fmt.Errorf("auto-migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Record appends one audit event. Failures are logged, never propagated:
// the audit trail must not break a request path.
func (s *Store) Record(kind, session, remoteAddr, detail string) {
	event := AuditEvent{Kind: kind, Session: session, RemoteAddr: remoteAddr, Detail: detail}
	if err := s.db.Create(&event).Error; err != nil {
		log.Printf("audit: record %s failed: %v", kind, err)
	}
}

// Recent returns the newest events, most recent first.
func (s *Store) Recent(limit int) ([]AuditEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []AuditEvent
	if err := s.db.Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}

// Prune deletes events older than the retention period and returns how
// many were removed.
func (s *Store) Prune(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := s.db.Where("created_at < ?", cutoff).Delete(&AuditEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune audit events: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
