package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const defaultStatementTimeout = 5 * time.Second

// sqlStore is the database/sql backed DatabaseService shared by all dialects.
type sqlStore struct {
	db               *sql.DB
	connectionString string
	dialect          dialect
	statementTimeout time.Duration
}

func newSQLStore(db *sql.DB, connectionString string, d dialect, statementTimeout time.Duration) *sqlStore {
	if statementTimeout <= 0 {
		statementTimeout = defaultStatementTimeout
	}
	return &sqlStore{
		db:               db,
		connectionString: connectionString,
		dialect:          d,
		statementTimeout: statementTimeout,
	}
}

func (s *sqlStore) CreateDatabase() (*sql.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}
	return s.db, nil
}

func (s *sqlStore) DoesDatabaseExist() bool {
	return s.db.Ping() == nil
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) DB() *sql.DB { return s.db }

func (s *sqlStore) Type() string { return s.dialect.name() }

func (s *sqlStore) InTx(ctx context.Context, fn func(uow UnitOfWork) error) (err error) {
	if fn == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.statementTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: s.dialect.isolation()})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Error("transaction rollback failed", "error", rbErr)
		}
	}()

	if err := s.dialect.beginUnit(ctx, tx, s.statementTimeout); err != nil {
		return fmt.Errorf("failed to prepare transaction: %w", err)
	}
	if err := fn(&unitOfWork{ctx: ctx, tx: tx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("transaction deadline reached before commit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

func (s *sqlStore) ListParents(ctx context.Context) ([]int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.statementTimeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT parent_id FROM assets ORDER BY parent_id")
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var parents []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		parents = append(parents, id)
	}
	return parents, rows.Err()
}
