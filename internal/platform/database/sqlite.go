package database

import (
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"relayr/internal/platform/config"
)

// New opens the shared store. All scheduler and API state transitions go
// through this single database, so a restarted process simply re-scans due
// work and resumes.
func New(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := cfg.Path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return db, nil
}
