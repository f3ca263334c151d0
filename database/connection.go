// database/connection.go
package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql" // MariaDB driver
)

// Open initializes a MySQL/MariaDB connection pool and verifies it.
// DSN: username:password@protocol(address)/dbname?param=value
func Open(dsn string) (*sql.DB, error) {
	dsn, err := ledgerDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool settings
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// ledgerDSN turns on parseTime, which the DATE and DATETIME scans of the
// ledger rely on.
func ledgerDSN(dsn string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("invalid ledger DSN: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}
