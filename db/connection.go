package db

import (
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/marcboeker/go-duckdb/v2"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// DB represents the database connection
type DB struct {
	conn *sql.DB
	path string
}

// singleton instance
var instance *DB

// GetDB returns the database instance, creating it if necessary
func GetDB() (*DB, error) {
	if instance != nil {
		return instance, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, serr.Wrap(err, "failed to get home directory")
	}

	dataDir := filepath.Join(homeDir, ".local", "share", "sqlpilot")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, serr.Wrap(err, "failed to create data directory")
	}

	dbPath := filepath.Join(dataDir, "sqlpilot.db")

	conn, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, serr.Wrap(err, "failed to open database")
	}

	if err := conn.Ping(); err != nil {
		return nil, serr.Wrap(err, "failed to ping database")
	}

	instance = &DB{
		conn: conn,
		path: dbPath,
	}

	logger.Info("Database connected", "path", dbPath)

	if err := instance.Migrate(); err != nil {
		return nil, serr.Wrap(err, "failed to run migrations")
	}

	return instance, nil
}

// Conn returns the underlying database connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}
