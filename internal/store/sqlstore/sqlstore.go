// Package sqlstore implements store.Backend on database/sql. The sqlite and
// postgres packages supply a Dialect and own the connection setup.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/store"
)

// Dialect covers what differs between SQL engines.
type Dialect struct {
	Name string

	// TextType is the column type for indexed strings. It must compare bytewise.
	TextType string

	// Placeholders rewrites ?-style placeholders, or nil to keep them.
	Placeholders func(query string) string

	IsUniqueViolation func(err error) bool

	// LockSchema serializes concurrent schema changes across processes. Optional.
	LockSchema func(ctx context.Context, tx *sql.Tx) error

	// SchemaApplied runs inside the schema transaction after the new version is recorded. Optional.
	SchemaApplied func(ctx context.Context, tx *sql.Tx, version int) error
}

// Dollar rewrites ? placeholders to $1, $2, ... in order.
func Dollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type Backend struct {
	db      *sql.DB
	dialect Dialect
}

// New creates the ledger tables if they are missing. It is idempotent.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Backend, error) {
	b := &Backend{db: db, dialect: dialect}
	for _, stmt := range b.ddl() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create ledger tables: %w", err)
		}
	}
	return b, nil
}

func (b *Backend) ddl() []string {
	text := b.dialect.TextType
	if text == "" {
		text = "TEXT"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS ledger_meta (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_collections (
			name TEXT PRIMARY KEY,
			next_key BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_indexes (
			collection TEXT NOT NULL REFERENCES ledger_collections(name),
			name TEXT NOT NULL,
			field TEXT NOT NULL,
			is_unique BOOLEAN NOT NULL,
			is_instant BOOLEAN NOT NULL,
			PRIMARY KEY (collection, name)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_records (
			collection TEXT NOT NULL REFERENCES ledger_collections(name),
			record_key BIGINT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (collection, record_key)
		)`,
		`CREATE TABLE IF NOT EXISTS ledger_index_entries (
			collection TEXT NOT NULL,
			index_name TEXT NOT NULL,
			record_key BIGINT NOT NULL,
			is_unique BOOLEAN NOT NULL,
			num_value DOUBLE PRECISION,
			str_value ` + text + `,
			PRIMARY KEY (collection, index_name, record_key),
			FOREIGN KEY (collection, record_key) REFERENCES ledger_records(collection, record_key) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS ledger_index_entries_num
			ON ledger_index_entries (collection, index_name, num_value, record_key)`,
		`CREATE INDEX IF NOT EXISTS ledger_index_entries_str
			ON ledger_index_entries (collection, index_name, str_value, record_key)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ledger_index_entries_num_unique
			ON ledger_index_entries (collection, index_name, num_value)
			WHERE is_unique AND num_value IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS ledger_index_entries_str_unique
			ON ledger_index_entries (collection, index_name, str_value)
			WHERE is_unique AND str_value IS NOT NULL`,
	}
}

// DB exposes the connection pool for diagnostics and tests.
func (b *Backend) DB() *sql.DB {
	return b.db
}

func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Backend) q(query string) string {
	if b.dialect.Placeholders == nil {
		return query
	}
	return b.dialect.Placeholders(query)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (b *Backend) LoadSchema(ctx context.Context) (*store.Schema, error) {
	return b.loadSchema(ctx, b.db)
}

func (b *Backend) loadSchema(ctx context.Context, q querier) (*store.Schema, error) {
	var raw string
	err := q.QueryRowContext(ctx, b.q(`SELECT value FROM ledger_meta WHERE name = ?`), "schema").Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var schema store.Schema
	if err := json.Unmarshal([]byte(raw), &schema); err != nil {
		return nil, fmt.Errorf("decode stored schema: %w", err)
	}
	return &schema, nil
}

// ApplySchema re-plans inside its transaction, so a process that lost the race
// to migrate finds nothing left to do.
func (b *Backend) ApplySchema(ctx context.Context, m store.Migration) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if b.dialect.LockSchema != nil {
		if err := b.dialect.LockSchema(ctx, tx); err != nil {
			return fmt.Errorf("lock schema: %w", err)
		}
	}
	current, err := b.loadSchema(ctx, tx)
	if err != nil {
		return err
	}
	m, err = store.Plan(current, m.To)
	if err != nil {
		return err
	}
	if m.Empty() {
		return tx.Commit()
	}

	for _, name := range m.NewCollections {
		if _, err := tx.ExecContext(ctx, b.q(`
			INSERT INTO ledger_collections (name, next_key) VALUES (?, 0)
			ON CONFLICT (name) DO NOTHING
		`), name); err != nil {
			return fmt.Errorf("create collection %s: %w", name, err)
		}
		spec, _ := m.To.Collection(name)
		for _, idx := range spec.Indexes {
			if err := b.registerIndex(ctx, tx, name, idx); err != nil {
				return err
			}
		}
	}
	for name, specs := range m.NewIndexes {
		for _, idx := range specs {
			if err := b.registerIndex(ctx, tx, name, idx); err != nil {
				return err
			}
			if err := b.backfill(ctx, tx, name, idx); err != nil {
				return err
			}
		}
	}

	raw, err := json.Marshal(m.To)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, b.q(`
		INSERT INTO ledger_meta (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value
	`), "schema", string(raw)); err != nil {
		return fmt.Errorf("record schema: %w", err)
	}
	if b.dialect.SchemaApplied != nil {
		if err := b.dialect.SchemaApplied(ctx, tx, m.To.Version); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *Backend) registerIndex(ctx context.Context, tx *sql.Tx, collection string, idx store.IndexSpec) error {
	_, err := tx.ExecContext(ctx, b.q(`
		INSERT INTO ledger_indexes (collection, name, field, is_unique, is_instant)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, name) DO NOTHING
	`), collection, idx.Name, idx.Field, idx.Unique, idx.Instant)
	if err != nil {
		return fmt.Errorf("register index %s.%s: %w", collection, idx.Name, err)
	}
	return nil
}

func (b *Backend) backfill(ctx context.Context, tx *sql.Tx, collection string, idx store.IndexSpec) error {
	rows, err := tx.QueryContext(ctx, b.q(`
		SELECT record_key, payload FROM ledger_records WHERE collection = ? ORDER BY record_key
	`), collection)
	if err != nil {
		return err
	}
	type pending struct {
		key   int64
		value store.IndexValue
	}
	var entries []pending
	owners := map[store.IndexValue]int64{}
	for rows.Next() {
		var (
			key     int64
			payload string
		)
		if err := rows.Scan(&key, &payload); err != nil {
			rows.Close()
			return err
		}
		v, ok, err := store.ExtractIndexValue([]byte(payload), idx)
		if err != nil {
			rows.Close()
			return domain.InvalidInput(collection, idx.Field, err.Error())
		}
		if !ok {
			continue
		}
		if idx.Unique {
			if owner, taken := owners[v]; taken {
				rows.Close()
				return domain.ConstraintViolation(collection, idx.Field, fmt.Sprintf("back-fill of index %s: #%d and #%d share value %q", idx.Name, owner, key, v.String()))
			}
			owners[v] = key
		}
		entries = append(entries, pending{key: key, value: v})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, e := range entries {
		entry := store.IndexEntry{Index: idx.Name, Field: idx.Field, Unique: idx.Unique, Value: e.value}
		if err := b.insertEntry(ctx, tx, collection, e.key, entry); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) ReserveKey(ctx context.Context, collection string) (int64, error) {
	var key int64
	err := b.db.QueryRowContext(ctx, b.q(`
		UPDATE ledger_collections SET next_key = next_key + 1
		WHERE name = ?
		RETURNING next_key
	`), collection).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", store.ErrUnknownCollection, collection)
	}
	if err != nil {
		return 0, fmt.Errorf("reserve %s key: %w", collection, err)
	}
	return key, nil
}

func (b *Backend) Get(ctx context.Context, collection string, key int64) ([]byte, error) {
	var payload string
	err := b.db.QueryRowContext(ctx, b.q(`
		SELECT payload FROM ledger_records WHERE collection = ? AND record_key = ?
	`), collection, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(collection, key)
	}
	if err != nil {
		return nil, err
	}
	return []byte(payload), nil
}

func (b *Backend) Scan(ctx context.Context, collection string) ([]store.Record, error) {
	rows, err := b.db.QueryContext(ctx, b.q(`
		SELECT record_key, payload FROM ledger_records
		WHERE collection = ?
		ORDER BY record_key
	`), collection)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

func (b *Backend) Lookup(ctx context.Context, collection string, index string, r store.Range) ([]store.Record, error) {
	column := "e.str_value"
	if r.IsNum {
		column = "e.num_value"
	}
	query := `
		SELECT r.record_key, r.payload
		FROM ledger_index_entries e
		JOIN ledger_records r ON r.collection = e.collection AND r.record_key = e.record_key
		WHERE e.collection = ? AND e.index_name = ? AND ` + column + ` IS NOT NULL`
	args := []any{collection, index}
	if r.Lower != nil {
		query += ` AND ` + column + ` >= ?`
		args = append(args, bound(*r.Lower))
	}
	if r.Upper != nil {
		query += ` AND ` + column + ` <= ?`
		args = append(args, bound(*r.Upper))
	}
	query += ` ORDER BY ` + column + `, e.record_key`

	rows, err := b.db.QueryContext(ctx, b.q(query), args...)
	if err != nil {
		return nil, err
	}
	return scanRecords(rows)
}

// Commit runs every op in one transaction.
func (b *Backend) Commit(ctx context.Context, ops []store.Op) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, op := range ops {
		if err := b.apply(ctx, tx, op); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (b *Backend) apply(ctx context.Context, tx *sql.Tx, op store.Op) error {
	switch op.Kind {
	case store.OpInsert:
		_, err := tx.ExecContext(ctx, b.q(`
			INSERT INTO ledger_records (collection, record_key, payload) VALUES (?, ?, ?)
		`), op.Collection, op.Key, string(op.Value))
		if err != nil {
			if b.isUniqueViolation(err) {
				return domain.ConstraintViolation(op.Collection, "id", fmt.Sprintf("key %d already exists", op.Key))
			}
			return fmt.Errorf("insert %s #%d: %w", op.Collection, op.Key, err)
		}
		return b.writeEntries(ctx, tx, op)

	case store.OpPut:
		res, err := tx.ExecContext(ctx, b.q(`
			UPDATE ledger_records SET payload = ? WHERE collection = ? AND record_key = ?
		`), string(op.Value), op.Collection, op.Key)
		if err != nil {
			return fmt.Errorf("put %s #%d: %w", op.Collection, op.Key, err)
		}
		if err := requireRow(res, op); err != nil {
			return err
		}
		if err := b.clearEntries(ctx, tx, op); err != nil {
			return err
		}
		return b.writeEntries(ctx, tx, op)

	case store.OpDelete:
		if err := b.clearEntries(ctx, tx, op); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, b.q(`
			DELETE FROM ledger_records WHERE collection = ? AND record_key = ?
		`), op.Collection, op.Key)
		if err != nil {
			return fmt.Errorf("delete %s #%d: %w", op.Collection, op.Key, err)
		}
		return requireRow(res, op)
	}
	return fmt.Errorf("unsupported op %d", op.Kind)
}

func requireRow(res sql.Result, op store.Op) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NotFound(op.Collection, op.Key)
	}
	return nil
}

func (b *Backend) clearEntries(ctx context.Context, tx *sql.Tx, op store.Op) error {
	_, err := tx.ExecContext(ctx, b.q(`
		DELETE FROM ledger_index_entries WHERE collection = ? AND record_key = ?
	`), op.Collection, op.Key)
	return err
}

func (b *Backend) writeEntries(ctx context.Context, tx *sql.Tx, op store.Op) error {
	for _, e := range op.Entries {
		if e.Unique {
			if err := b.checkUnique(ctx, tx, op.Collection, op.Key, e); err != nil {
				return err
			}
		}
		if err := b.insertEntry(ctx, tx, op.Collection, op.Key, e); err != nil {
			return err
		}
	}
	return nil
}

// checkUnique names the offending field; the partial unique indexes still
// catch writers that race past it.
func (b *Backend) checkUnique(ctx context.Context, tx *sql.Tx, collection string, key int64, e store.IndexEntry) error {
	column := "str_value"
	if e.Value.IsNum {
		column = "num_value"
	}
	var owner int64
	err := tx.QueryRowContext(ctx, b.q(`
		SELECT record_key FROM ledger_index_entries
		WHERE collection = ? AND index_name = ? AND is_unique AND `+column+` = ? AND record_key <> ?
		LIMIT 1
	`), collection, e.Index, bound(e.Value), key).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	return domain.ConstraintViolation(collection, e.Field, fmt.Sprintf("value %q is already used by #%d", e.Value.String(), owner))
}

func (b *Backend) insertEntry(ctx context.Context, tx *sql.Tx, collection string, key int64, e store.IndexEntry) error {
	var num, str any
	if e.Value.IsNum {
		num = e.Value.Num
	} else {
		str = e.Value.Str
	}
	_, err := tx.ExecContext(ctx, b.q(`
		INSERT INTO ledger_index_entries (collection, index_name, record_key, is_unique, num_value, str_value)
		VALUES (?, ?, ?, ?, ?, ?)
	`), collection, e.Index, key, e.Unique, num, str)
	if err != nil {
		if b.isUniqueViolation(err) {
			return domain.ConstraintViolation(collection, e.Field, fmt.Sprintf("value %q is already used", e.Value.String()))
		}
		return fmt.Errorf("index %s #%d: %w", collection, key, err)
	}
	return nil
}

func (b *Backend) isUniqueViolation(err error) bool {
	return b.dialect.IsUniqueViolation != nil && b.dialect.IsUniqueViolation(err)
}

func bound(v store.IndexValue) any {
	if v.IsNum {
		return v.Num
	}
	return v.Str
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	defer rows.Close()
	var out []store.Record
	for rows.Next() {
		var (
			key     int64
			payload string
		)
		if err := rows.Scan(&key, &payload); err != nil {
			return nil, err
		}
		out = append(out, store.Record{Key: key, Value: []byte(payload)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
