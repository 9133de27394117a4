package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/store"
)

// Backend keeps every collection in maps guarded by one RWMutex. Index entries
// are kept in sorted slices so range lookups are a binary search plus a scan.
type Backend struct {
	mu          sync.RWMutex
	schema      *store.Schema
	collections map[string]*collection
	closed      bool
}

type collection struct {
	nextKey int64
	records map[int64][]byte
	indexes map[string]*index
}

type index struct {
	spec    store.IndexSpec
	entries []entry
	byKey   map[int64]store.IndexValue
}

type entry struct {
	value store.IndexValue
	key   int64
}

func New() *Backend {
	return &Backend{collections: map[string]*collection{}}
}

func (b *Backend) LoadSchema(context.Context) (*store.Schema, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, store.ErrClosed
	}
	if b.schema == nil {
		return nil, nil
	}
	schema := cloneSchema(*b.schema)
	return &schema, nil
}

func (b *Backend) ApplySchema(_ context.Context, m store.Migration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return store.ErrClosed
	}

	// Build new indexes on the side so a failed back-fill installs nothing.
	built := map[string][]*index{}
	for name, specs := range m.NewIndexes {
		c, ok := b.collections[name]
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrUnknownCollection, name)
		}
		for _, spec := range specs {
			idx, err := buildIndex(name, spec, c.records)
			if err != nil {
				return err
			}
			built[name] = append(built[name], idx)
		}
	}

	for _, name := range m.NewCollections {
		if _, ok := b.collections[name]; ok {
			continue
		}
		spec, _ := m.To.Collection(name)
		c := &collection{records: map[int64][]byte{}, indexes: map[string]*index{}}
		for _, idxSpec := range spec.Indexes {
			c.indexes[idxSpec.Name] = newIndex(idxSpec)
		}
		b.collections[name] = c
	}
	for name, indexes := range built {
		for _, idx := range indexes {
			b.collections[name].indexes[idx.spec.Name] = idx
		}
	}

	schema := cloneSchema(m.To)
	b.schema = &schema
	return nil
}

func (b *Backend) ReserveKey(_ context.Context, name string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, err := b.collection(name)
	if err != nil {
		return 0, err
	}
	c.nextKey++
	return c.nextKey, nil
}

func (b *Backend) Get(_ context.Context, name string, key int64) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.collection(name)
	if err != nil {
		return nil, err
	}
	value, ok := c.records[key]
	if !ok {
		return nil, domain.NotFound(name, key)
	}
	return slices.Clone(value), nil
}

func (b *Backend) Scan(_ context.Context, name string) ([]store.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.collection(name)
	if err != nil {
		return nil, err
	}
	keys := make([]int64, 0, len(c.records))
	for key := range c.records {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	out := make([]store.Record, 0, len(keys))
	for _, key := range keys {
		out = append(out, store.Record{Key: key, Value: slices.Clone(c.records[key])})
	}
	return out, nil
}

func (b *Backend) Lookup(_ context.Context, name string, indexName string, r store.Range) ([]store.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, err := b.collection(name)
	if err != nil {
		return nil, err
	}
	idx, ok := c.indexes[indexName]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", store.ErrUnknownIndex, name, indexName)
	}

	start := sort.Search(len(idx.entries), func(i int) bool {
		return !before(idx.entries[i].value, r)
	})
	var out []store.Record
	for _, e := range idx.entries[start:] {
		if !r.Contains(e.value) {
			break
		}
		out = append(out, store.Record{Key: e.key, Value: slices.Clone(c.records[e.key])})
	}
	return out, nil
}

// Commit applies ops in order and rolls every applied op back on the first failure.
func (b *Backend) Commit(_ context.Context, ops []store.Op) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return store.ErrClosed
	}

	var undo []func()
	rollback := func() {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	for _, op := range ops {
		revert, err := b.apply(op)
		if err != nil {
			rollback()
			return err
		}
		undo = append(undo, revert)
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Backend) apply(op store.Op) (func(), error) {
	c, err := b.collection(op.Collection)
	if err != nil {
		return nil, err
	}
	prev, exists := c.records[op.Key]

	switch op.Kind {
	case store.OpInsert:
		if exists {
			return nil, domain.ConstraintViolation(op.Collection, "id", fmt.Sprintf("key %d already exists", op.Key))
		}
		if err := c.checkUnique(op.Collection, op.Key, op.Entries); err != nil {
			return nil, err
		}
		c.records[op.Key] = slices.Clone(op.Value)
		c.setEntries(op.Key, op.Entries)
		if op.Key > c.nextKey {
			c.nextKey = op.Key
		}
		return func() {
			c.removeEntries(op.Key)
			delete(c.records, op.Key)
		}, nil

	case store.OpPut:
		if !exists {
			return nil, domain.NotFound(op.Collection, op.Key)
		}
		if err := c.checkUnique(op.Collection, op.Key, op.Entries); err != nil {
			return nil, err
		}
		prevEntries := c.entriesOf(op.Key)
		c.removeEntries(op.Key)
		c.records[op.Key] = slices.Clone(op.Value)
		c.setEntries(op.Key, op.Entries)
		return func() {
			c.removeEntries(op.Key)
			c.records[op.Key] = prev
			c.setEntries(op.Key, prevEntries)
		}, nil

	case store.OpDelete:
		if !exists {
			return nil, domain.NotFound(op.Collection, op.Key)
		}
		prevEntries := c.entriesOf(op.Key)
		c.removeEntries(op.Key)
		delete(c.records, op.Key)
		return func() {
			c.records[op.Key] = prev
			c.setEntries(op.Key, prevEntries)
		}, nil
	}
	return nil, fmt.Errorf("unsupported op %d", op.Kind)
}

func (b *Backend) collection(name string) (*collection, error) {
	if b.closed {
		return nil, store.ErrClosed
	}
	c, ok := b.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrUnknownCollection, name)
	}
	return c, nil
}

func (c *collection) checkUnique(name string, key int64, entries []store.IndexEntry) error {
	for _, e := range entries {
		if !e.Unique {
			continue
		}
		idx, ok := c.indexes[e.Index]
		if !ok {
			continue
		}
		if owner, taken := idx.owner(e.Value); taken && owner != key {
			return domain.ConstraintViolation(name, e.Field, fmt.Sprintf("value %q is already used by #%d", e.Value.String(), owner))
		}
	}
	return nil
}

func (c *collection) entriesOf(key int64) []store.IndexEntry {
	var out []store.IndexEntry
	for _, idx := range c.indexes {
		if v, ok := idx.byKey[key]; ok {
			out = append(out, store.IndexEntry{Index: idx.spec.Name, Field: idx.spec.Field, Unique: idx.spec.Unique, Value: v})
		}
	}
	return out
}

func (c *collection) setEntries(key int64, entries []store.IndexEntry) {
	for _, e := range entries {
		if idx, ok := c.indexes[e.Index]; ok {
			idx.insert(e.Value, key)
		}
	}
}

func (c *collection) removeEntries(key int64) {
	for _, idx := range c.indexes {
		idx.remove(key)
	}
}

func newIndex(spec store.IndexSpec) *index {
	return &index{spec: spec, byKey: map[int64]store.IndexValue{}}
}

func buildIndex(name string, spec store.IndexSpec, records map[int64][]byte) (*index, error) {
	idx := newIndex(spec)
	for key, value := range records {
		v, ok, err := store.ExtractIndexValue(value, spec)
		if err != nil {
			return nil, domain.InvalidInput(name, spec.Field, err.Error())
		}
		if !ok {
			continue
		}
		if spec.Unique {
			if owner, taken := idx.owner(v); taken {
				return nil, domain.ConstraintViolation(name, spec.Field, fmt.Sprintf("back-fill of index %s: #%d and #%d share value %q", spec.Name, owner, key, v.String()))
			}
		}
		idx.insert(v, key)
	}
	return idx, nil
}

func compareEntry(a entry, b entry) int {
	if c := a.value.Compare(b.value); c != 0 {
		return c
	}
	switch {
	case a.key < b.key:
		return -1
	case a.key > b.key:
		return 1
	}
	return 0
}

func (idx *index) insert(v store.IndexValue, key int64) {
	e := entry{value: v, key: key}
	pos := sort.Search(len(idx.entries), func(i int) bool {
		return compareEntry(idx.entries[i], e) >= 0
	})
	idx.entries = slices.Insert(idx.entries, pos, e)
	idx.byKey[key] = v
}

func (idx *index) remove(key int64) {
	v, ok := idx.byKey[key]
	if !ok {
		return
	}
	e := entry{value: v, key: key}
	pos := sort.Search(len(idx.entries), func(i int) bool {
		return compareEntry(idx.entries[i], e) >= 0
	})
	if pos < len(idx.entries) && idx.entries[pos].key == key {
		idx.entries = slices.Delete(idx.entries, pos, pos+1)
	}
	delete(idx.byKey, key)
}

func (idx *index) owner(v store.IndexValue) (int64, bool) {
	pos := sort.Search(len(idx.entries), func(i int) bool {
		return idx.entries[i].value.Compare(v) >= 0
	})
	if pos < len(idx.entries) && idx.entries[pos].value.Compare(v) == 0 {
		return idx.entries[pos].key, true
	}
	return 0, false
}

// before reports whether v sorts ahead of every value r can contain.
func before(v store.IndexValue, r store.Range) bool {
	if v.IsNum != r.IsNum {
		return v.IsNum
	}
	return r.Lower != nil && v.Compare(*r.Lower) < 0
}

func cloneSchema(s store.Schema) store.Schema {
	out := store.Schema{Version: s.Version, Collections: make([]store.CollectionSpec, len(s.Collections))}
	for i, c := range s.Collections {
		out.Collections[i] = store.CollectionSpec{Name: c.Name, Indexes: slices.Clone(c.Indexes)}
	}
	return out
}
