// Package sqlite3 is the single-process backend: pure-Go modernc.org/sqlite,
// WAL journaling, and a single writer connection, matching the store's
// optimistic-concurrency discipline described in spec §5.
package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aicove/syncd/internal/config"

	_ "modernc.org/sqlite"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
)

var DefaultTablePrefix = "syncd_"

// execer is satisfied by both *sql.DB and *sql.Tx, letting every CRUD method
// run unmodified whether or not it's inside a Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

type SQLite struct {
	db   *sql.DB
	goqu *goqu.Database

	tableScopes    exp.IdentifierExpression
	tableConvs     exp.IdentifierExpression
	tableMessages  exp.IdentifierExpression
	tableBlocks    exp.IdentifierExpression
	tableProviders exp.IdentifierExpression
	tableOps       exp.IdentifierExpression
	tableCursors   exp.IdentifierExpression
}

func New(ctx context.Context, cfg *config.StoreSQLite) (*SQLite, error) {
	if cfg == nil {
		return nil, errors.New("sqlite configuration is nil")
	}

	if cfg.Datasource == "" {
		return nil, errors.New("sqlite datasource is required")
	}

	tablePrefix := DefaultTablePrefix
	if cfg.TablePrefix != nil {
		tablePrefix = *cfg.TablePrefix
	}

	migrate := cfg.Migrate
	if migrate.Table == "" {
		migrate.Table = "migrations"
	}

	if migrate.Datasource == "" {
		migrate.Datasource = cfg.Datasource
	}

	migrate.Table = tablePrefix + migrate.Table
	if migrate.Values == nil {
		migrate.Values = make(map[string]string)
	}
	migrate.Values["TABLE_PREFIX"] = tablePrefix

	if err := MigrateDB(ctx, &migrate); err != nil {
		return nil, fmt.Errorf("migrate store sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Datasource)
	if err != nil {
		return nil, fmt.Errorf("open sqlite connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()

		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()

		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()

		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite is single-writer; limit connections accordingly, as the
	// teacher does for its own stores.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	slog.Info("connected to store sqlite")

	dbGoqu := goqu.New("sqlite3", db)

	return &SQLite{
		db:             db,
		goqu:           dbGoqu,
		tableScopes:    goqu.T(tablePrefix + "sync_scopes"),
		tableConvs:     goqu.T(tablePrefix + "conversations"),
		tableMessages:  goqu.T(tablePrefix + "sync_messages"),
		tableBlocks:    goqu.T(tablePrefix + "message_blocks"),
		tableProviders: goqu.T(tablePrefix + "providers"),
		tableOps:       goqu.T(tablePrefix + "sync_operations"),
		tableCursors:   goqu.T(tablePrefix + "sync_cursors"),
	}, nil
}

func (s *SQLite) Close() {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			slog.Error("close store sqlite connection", "error", err)
		}
	}
}

// exec returns the execer for ctx: the active transaction if Tx is in
// progress, otherwise the shared connection.
func (s *SQLite) exec(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}

	return s.db
}

// Tx runs fn inside one transaction. Append-message, regenerate-replace and
// fork each run through this so a single verb never half-completes; a push
// batch is not wrapped as a whole, each of its operations commits on its own.
func (s *SQLite) Tx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return errors.New("sqlite: nested Tx is not supported")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Error("rollback after failed tx", "error", rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
