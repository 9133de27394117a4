package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog"

	"fieldledger/backend/internal/domain"
)

// Store is the process-wide handle over a Backend. It is safe for concurrent
// use: writes to one key are serialized through the Locker.
type Store struct {
	backend Backend
	locker  Locker
	logger  zerolog.Logger
	schema  Schema
	closed  atomic.Bool
}

type Option func(*Store)

// WithLocker replaces the in-process keyed mutex, e.g. with a Redis lock when
// several processes share one database.
func WithLocker(locker Locker) Option {
	return func(s *Store) {
		if locker != nil {
			s.locker = locker
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open brings the backend up to schema. It is idempotent: reopening with the
// same schema changes nothing, and a newer version only adds collections and
// indexes.
func Open(ctx context.Context, backend Backend, schema Schema, opts ...Option) (*Store, error) {
	s := &Store{
		backend: backend,
		locker:  NewKeyedMutex(),
		logger:  zerolog.Nop(),
		schema:  schema,
	}
	for _, opt := range opts {
		opt(s)
	}

	current, err := backend.LoadSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	m, err := Plan(current, schema)
	if err != nil {
		return nil, err
	}
	if m.Empty() {
		s.logger.Debug().Int("version", schema.Version).Msg("schema up to date")
		return s, nil
	}
	if err := backend.ApplySchema(ctx, m); err != nil {
		return nil, fmt.Errorf("apply schema v%d: %w", schema.Version, err)
	}

	newIndexes := 0
	for _, idx := range m.NewIndexes {
		newIndexes += len(idx)
	}
	s.logger.Info().
		Int("from", m.From).
		Int("to", schema.Version).
		Strs("new_collections", m.NewCollections).
		Int("new_indexes", newIndexes).
		Msg("schema applied")
	return s, nil
}

func (s *Store) Schema() Schema {
	return s.schema
}

func (s *Store) Version() int {
	return s.schema.Version
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.backend.Close()
}

// Lock takes a named application lock, e.g. to serialize work that spans collections.
func (s *Store) Lock(ctx context.Context, name string) (func(), error) {
	return s.locker.Lock(ctx, name)
}

// Reserve allocates a key ahead of an Insert, so related records in the same
// batch can reference it.
func (s *Store) Reserve(ctx context.Context, collection string) (int64, error) {
	if err := s.check(collection); err != nil {
		return 0, err
	}
	return s.backend.ReserveKey(ctx, collection)
}

func (s *Store) Add(ctx context.Context, collection string, value []byte) (int64, error) {
	b := NewBatch()
	b.Add(collection, value)
	keys, err := s.Commit(ctx, b)
	if err != nil {
		return 0, err
	}
	return keys[0], nil
}

func (s *Store) Get(ctx context.Context, collection string, key int64) (Record, error) {
	if err := s.check(collection); err != nil {
		return Record{}, err
	}
	value, err := s.backend.Get(ctx, collection, key)
	if err != nil {
		return Record{}, err
	}
	return Record{Key: key, Value: value}, nil
}

// GetAll returns every record of the collection. Callers must not rely on the order.
func (s *Store) GetAll(ctx context.Context, collection string) ([]Record, error) {
	if err := s.check(collection); err != nil {
		return nil, err
	}
	return s.backend.Scan(ctx, collection)
}

func (s *Store) GetByIndex(ctx context.Context, collection string, index string, q Query) ([]Record, error) {
	if err := s.check(collection); err != nil {
		return nil, err
	}
	spec, _ := s.schema.Collection(collection)
	idx, ok := spec.Index(index)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, collection, index)
	}
	r, err := q.Range(idx)
	if err != nil {
		return nil, domain.InvalidInput(collection, idx.Field, err.Error())
	}
	return s.backend.Lookup(ctx, collection, index, r)
}

// Put replaces an existing record; it fails with NotFound when the key is absent.
func (s *Store) Put(ctx context.Context, collection string, key int64, value []byte) error {
	b := NewBatch()
	b.Put(collection, key, value)
	_, err := s.Commit(ctx, b)
	return err
}

func (s *Store) Delete(ctx context.Context, collection string, key int64) error {
	b := NewBatch()
	b.Delete(collection, key)
	_, err := s.Commit(ctx, b)
	return err
}

// Commit applies the batch atomically and returns the keys of its inserts in order.
// Keys touched by Put or Delete are locked for the duration of the write.
func (s *Store) Commit(ctx context.Context, b *Batch) ([]int64, error) {
	ops := b.Ops()
	if len(ops) == 0 {
		return nil, nil
	}

	var names []string
	seen := map[string]bool{}
	for _, op := range ops {
		if op.Kind == OpInsert {
			continue
		}
		name := recordLockName(op.Collection, op.Key)
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	// Fixed acquisition order keeps concurrent multi-key batches from deadlocking.
	sort.Strings(names)
	for _, name := range names {
		unlock, err := s.locker.Lock(ctx, name)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	return s.commit(ctx, ops)
}

// Update is the read-modify-write path for one record. It holds the key's lock
// while fn runs and its batch commits, so updates to one key never interleave.
// The batch may Put or Delete only that key; every other write must be an insert.
// A nil batch commits nothing.
func (s *Store) Update(ctx context.Context, collection string, key int64, fn func(current Record) (*Batch, error)) error {
	if err := s.check(collection); err != nil {
		return err
	}
	unlock, err := s.locker.Lock(ctx, recordLockName(collection, key))
	if err != nil {
		return err
	}
	defer unlock()

	value, err := s.backend.Get(ctx, collection, key)
	if err != nil {
		return err
	}
	b, err := fn(Record{Key: key, Value: value})
	if err != nil {
		return err
	}
	ops := b.Ops()
	for _, op := range ops {
		if op.Kind != OpInsert && (op.Collection != collection || op.Key != key) {
			return fmt.Errorf("update of %s #%d cannot %s %s #%d", collection, key, op.Kind, op.Collection, op.Key)
		}
	}
	if len(ops) == 0 {
		return nil
	}
	_, err = s.commit(ctx, ops)
	return err
}

func (s *Store) commit(ctx context.Context, ops []Op) ([]int64, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var keys []int64
	for i := range ops {
		op := &ops[i]
		spec, ok := s.schema.Collection(op.Collection)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, op.Collection)
		}
		if op.Kind == OpInsert {
			if op.Key == 0 {
				key, err := s.backend.ReserveKey(ctx, op.Collection)
				if err != nil {
					return nil, err
				}
				op.Key = key
			}
			keys = append(keys, op.Key)
		}
		if op.Kind == OpDelete {
			continue
		}
		entries, err := IndexEntries(spec, op.Value)
		if err != nil {
			return nil, err
		}
		op.Entries = entries
	}
	if err := s.backend.Commit(ctx, ops); err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) check(collection string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, ok := s.schema.Collection(collection); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
	}
	return nil
}

func recordLockName(collection string, key int64) string {
	return "record/" + collection + "/" + strconv.FormatInt(key, 10)
}
