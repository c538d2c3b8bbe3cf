// Package datastore opens the gorm database backing the definition and alarm
// document collections.
package datastore

import (
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/alarmpipe/alarmpipe/internal/datastore/entities"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Open connects to the database and migrates the documents table.
func Open(driver, dsn string, debug bool) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(dsn)
	case DriverMySQL:
		normalized, err := normalizeMySQLDSN(dsn)
		if err != nil {
			return nil, err
		}
		dialector = mysql.Open(normalized)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	level := gorm_logger.Silent
	if debug {
		level = gorm_logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gorm_logger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if driver == DriverSQLite {
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.AutoMigrate(&entities.Document{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate documents table: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// normalizeMySQLDSN forces parseTime so DATETIME columns scan into time.Time.
func normalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	return cfg.FormatDSN(), nil
}
