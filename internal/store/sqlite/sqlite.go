// Package sqlite is the embedded, file-backed record store backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"fieldledger/backend/internal/store/sqlstore"
)

// Backend is a sqlstore.Backend on a single SQLite connection.
type Backend struct {
	*sqlstore.Backend
}

// Open creates or opens the database file at path. It is idempotent.
//
// The connection is configured with:
//   - WAL mode so readers never block the writer
//   - NORMAL synchronous mode
//   - a 5 second busy timeout
//   - foreign key enforcement
//
// PRAGMA user_version mirrors the applied schema version.
func Open(ctx context.Context, path string) (*Backend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	inner, err := sqlstore.New(ctx, db, Dialect())
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Backend{Backend: inner}, nil
}

// Dialect describes SQLite to the shared SQL backend.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "sqlite",
		TextType:          "TEXT",
		IsUniqueViolation: isUniqueViolation,
		SchemaApplied: func(ctx context.Context, tx *sql.Tx, version int) error {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
				return fmt.Errorf("set user_version: %w", err)
			}
			return nil
		},
	}
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// UserVersion reports PRAGMA user_version.
func (b *Backend) UserVersion(ctx context.Context) (int, error) {
	var version int
	if err := b.DB().QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
