package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteDriverName = "sqlite"

type sqliteDialect struct{}

// NewSQLiteDatabase opens a SQLite backed store. A single connection is used
// so that ":memory:" databases are shared by every statement and writers are
// serialized by the driver.
func NewSQLiteDatabase(connectionString string, statementTimeout time.Duration) (DatabaseService, error) {
	db, err := sql.Open(sqliteDriverName, connectionString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	return newSQLStore(db, connectionString, sqliteDialect{}, statementTimeout), nil
}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS assets (
			id INTEGER PRIMARY KEY,
			parent_id INTEGER NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('primary', 'thumbnail', 'highres')),
			position INTEGER,
			thumbnail_id INTEGER,
			high_res_of INTEGER,
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			byte_size INTEGER NOT NULL DEFAULT 0,
			content_type TEXT NOT NULL DEFAULT '',
			storage_path TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assets_parent_kind_position ON assets (parent_id, kind, position)`,
		`CREATE INDEX IF NOT EXISTS idx_assets_thumbnail ON assets (thumbnail_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assets_high_res_of ON assets (high_res_of)`,
		`CREATE TABLE IF NOT EXISTS asset_id_sequence (
			name TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		)`,
		`INSERT OR IGNORE INTO asset_id_sequence (name, value)
			SELECT 'assets', COALESCE(MAX(id), 0) FROM assets`,
	}
}

func (sqliteDialect) isolation() sql.IsolationLevel { return sql.LevelDefault }

// beginUnit is a no-op: the driver interrupts statements when the unit's
// context deadline passes.
func (sqliteDialect) beginUnit(context.Context, *sql.Tx, time.Duration) error { return nil }

// lockParent is a no-op: the single connection already serializes writers.
func (sqliteDialect) lockParent(context.Context, *sql.Tx, int64) error { return nil }

func (sqliteDialect) nextIDQuery() string {
	return `UPDATE asset_id_sequence SET value = value + 1 WHERE name = 'assets' RETURNING value`
}

func (sqliteDialect) resyncQuery() string {
	return `UPDATE asset_id_sequence SET value = (SELECT COALESCE(MAX(id), 0) FROM assets)
		WHERE name = 'assets' RETURNING value`
}

func (sqliteDialect) rebind(query string) string { return query }

func (sqliteDialect) isIDCollision(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return strings.Contains(se.Error(), "assets.id")
	}
	return false
}

func isSQLiteBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}
