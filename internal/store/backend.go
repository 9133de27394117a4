package store

import (
	"context"
	"errors"
)

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrUnknownIndex      = errors.New("unknown index")
	ErrClosed            = errors.New("store closed")
)

// Record is a stored payload and its key. Callers own the bytes they receive.
type Record struct {
	Key   int64
	Value []byte
}

// Backend persists collections, keys and index entries. Implementations must
// apply a Commit atomically and reject unique index collisions with a
// domain constraint violation naming the indexed field.
type Backend interface {
	// LoadSchema returns nil for a backend that has never been initialized.
	LoadSchema(ctx context.Context) (*Schema, error)
	// ApplySchema creates new collections and indexes, back-fills new indexes
	// from existing records with ExtractIndexValue, and records the target schema.
	// A failed back-fill leaves the stored schema unchanged.
	ApplySchema(ctx context.Context, m Migration) error
	// ReserveKey hands out the next key of a collection. Keys start at 1 and
	// are never reused, even when the write that used them fails.
	ReserveKey(ctx context.Context, collection string) (int64, error)
	Get(ctx context.Context, collection string, key int64) ([]byte, error)
	// Scan returns every record in key order.
	Scan(ctx context.Context, collection string) ([]Record, error)
	// Lookup returns the records whose index value lies in r, ordered by value then key.
	Lookup(ctx context.Context, collection string, index string, r Range) ([]Record, error)
	Commit(ctx context.Context, ops []Op) error
	Close() error
}
