package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const postgresDriverName = "pgx"

// SQLSTATE codes a caller may simply retry.
var retryablePgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled, raised by statement_timeout
}

type postgresDialect struct{}

// NewPostgresDatabase opens a PostgreSQL backed store through the pgx stdlib driver.
func NewPostgresDatabase(connectionString string, statementTimeout time.Duration) (DatabaseService, error) {
	db, err := sql.Open(postgresDriverName, connectionString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return newSQLStore(db, connectionString, postgresDialect{}, statementTimeout), nil
}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS assets (
			id BIGINT PRIMARY KEY,
			parent_id BIGINT NOT NULL,
			kind TEXT NOT NULL CHECK (kind IN ('primary', 'thumbnail', 'highres')),
			position BIGINT,
			thumbnail_id BIGINT,
			high_res_of BIGINT,
			width INTEGER NOT NULL DEFAULT 0,
			height INTEGER NOT NULL DEFAULT 0,
			byte_size BIGINT NOT NULL DEFAULT 0,
			content_type TEXT NOT NULL DEFAULT '',
			storage_path TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assets_parent_kind_position ON assets (parent_id, kind, position)`,
		`CREATE INDEX IF NOT EXISTS idx_assets_thumbnail ON assets (thumbnail_id)`,
		`CREATE INDEX IF NOT EXISTS idx_assets_high_res_of ON assets (high_res_of)`,
		`CREATE SEQUENCE IF NOT EXISTS asset_id_seq`,
	}
}

func (postgresDialect) isolation() sql.IsolationLevel { return sql.LevelReadCommitted }

func (postgresDialect) beginUnit(ctx context.Context, tx *sql.Tx, timeout time.Duration) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", timeout.Milliseconds()))
	return err
}

func (d postgresDialect) lockParent(ctx context.Context, tx *sql.Tx, parentID int64) error {
	_, err := tx.ExecContext(ctx, d.rebind("SELECT pg_advisory_xact_lock(?)"), parentID)
	return err
}

func (postgresDialect) nextIDQuery() string {
	return `SELECT nextval('asset_id_seq')`
}

// resyncQuery moves the sequence so that the next value is max(id)+1 and
// returns max(id).
func (postgresDialect) resyncQuery() string {
	return `SELECT setval('asset_id_seq', COALESCE((SELECT MAX(id) FROM assets), 0) + 1, false) - 1`
}

func (postgresDialect) rebind(query string) string { return rebindDollar(query) }

func (postgresDialect) isIDCollision(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == "assets_pkey"
}

func isPostgresRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return retryablePgCodes[pgErr.Code]
}
