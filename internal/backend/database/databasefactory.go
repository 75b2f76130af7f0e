package database

import (
	"fmt"
	"log/slog"
	"time"
)

func NewDatabase(databaseType, connectionString string, statementTimeout time.Duration) (database DatabaseService, err error) {
	switch databaseType {
	case "sqlite":
		database, err = NewSQLiteDatabase(connectionString, statementTimeout)
	case "postgres":
		database, err = NewPostgresDatabase(connectionString, statementTimeout)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", databaseType)
	}
	if err != nil {
		return nil, err
	}

	// Schema creation is idempotent and required for in-memory SQLite.
	slog.Info("initializing database schema", "type", databaseType)
	if _, err = database.CreateDatabase(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return database, nil
}
