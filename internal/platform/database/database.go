package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"hooksync/internal/platform/config"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Open connects to the configured store. The driver is taken from cfg.Driver,
// or inferred from the URL scheme when unset.
func Open(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	driver, dsn := resolveDriver(cfg)
	if driver == DriverSQLite && !isMemory(dsn) {
		path, _, _ := strings.Cut(dsn, "?")
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	if driver == DriverSQLite && isMemory(dsn) {
		// every connection to :memory: is a separate database
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return db, nil
}

func resolveDriver(cfg config.DatabaseConfig) (string, string) {
	dsn := cfg.URL
	driver := cfg.Driver
	if driver == "" {
		driver = DriverSQLite
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			driver = DriverPostgres
		}
	}

	if driver == DriverSQLite {
		dsn = strings.TrimPrefix(dsn, "file:")
		if !isMemory(dsn) && !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000&_journal_mode=WAL"
		}
	}
	return driver, dsn
}

func isMemory(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:")
}

// IsUniqueViolation reports whether err is a unique/primary key constraint
// failure on either supported driver.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
