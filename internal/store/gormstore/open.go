package gormstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	defaultSQLiteFile = "coinflip.db"
)

// Database is an opened connection together with its driver name.
type Database struct {
	DB     *gorm.DB
	Driver string
}

// Close releases the underlying connection pool.
func (database Database) Close() error {
	sqlDB, err := database.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Open connects to the database named by dsn. postgres:// and postgresql://
// select PostgreSQL; sqlite:// or a bare path select SQLite.
func Open(ctx context.Context, dsn string, gormLogger logger.Interface) (Database, error) {
	driver, sqlitePath, err := ResolveDriver(dsn)
	if err != nil {
		return Database{}, err
	}
	cfg := &gorm.Config{TranslateError: true}
	if gormLogger != nil {
		cfg.Logger = gormLogger
	}
	var db *gorm.DB
	switch driver {
	case DriverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case DriverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return Database{}, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return Database{}, err
	}
	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return Database{}, err
		}
		// SQLite admits a single writer.
		sqlDB.SetMaxOpenConns(1)
	}
	return Database{DB: db.WithContext(ctx), Driver: driver}, nil
}

// ResolveDriver maps a DSN onto a driver and, for SQLite, a file path.
func ResolveDriver(dsn string) (string, string, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return "", "", fmt.Errorf("database url is required")
	}
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return DriverPostgres, "", nil
	}
	if strings.HasPrefix(trimmed, "sqlite://") {
		parsed, err := url.Parse(trimmed)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := parsed.Path
		if path == "" {
			path = parsed.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFile
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return DriverSQLite, sqlitePath, err
	}
	sqlitePath, err := normalizeSQLitePath(trimmed)
	return DriverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

// Migrate creates or updates every table and index.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
