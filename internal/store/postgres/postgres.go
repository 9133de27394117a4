package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fieldledger/backend/internal/store/sqlstore"
)

// schemaLockID keys the advisory lock taken while a schema version is applied.
const schemaLockID int64 = 0x6c65646765720001

type Backend struct {
	*sqlstore.Backend
}

func New(ctx context.Context, databaseURL string) (*Backend, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	inner, err := sqlstore.New(ctx, db, Dialect())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Backend{Backend: inner}, nil
}

// Dialect describes PostgreSQL to the shared SQL backend. Indexed strings use
// the C collation so range scans order bytewise, as the other backends do.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Name:              "postgres",
		TextType:          `TEXT COLLATE "C"`,
		Placeholders:      sqlstore.Dollar,
		IsUniqueViolation: isUniqueViolation,
		LockSchema: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID)
			return err
		},
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
