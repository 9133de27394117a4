package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"fieldledger/backend/internal/store"
)

// table is the typed view of one collection shared by every repository.
type table[T any] struct {
	store    *store.Store
	name     string
	entity   string
	temporal temporalFields
	validate *validator.Validate
	now      func() time.Time

	setID func(v *T, id int64)
	// stamp sets timestamps; created is true only for the first write.
	stamp func(v *T, now time.Time, created bool)
	// prepare derives fields and normalizes values before every write. Optional.
	prepare func(v *T) error
}

func (t *table[T]) encode(v T) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", t.entity, err)
	}
	return payload, nil
}

func (t *table[T]) decode(rec store.Record) (T, error) {
	var v T
	raw, err := t.temporal.normalize(rec.Value)
	if err != nil {
		return v, fmt.Errorf("decode %s #%d: %w", t.entity, rec.Key, err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %s #%d: %w", t.entity, rec.Key, err)
	}
	t.setID(&v, rec.Key)
	return v, nil
}

func (t *table[T]) decodeAll(records []store.Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for _, rec := range records {
		v, err := t.decode(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (t *table[T]) check(v *T) error {
	if t.prepare != nil {
		if err := t.prepare(v); err != nil {
			return err
		}
	}
	if err := t.validate.Struct(v); err != nil {
		return validationError(t.entity, err)
	}
	return nil
}

func (t *table[T]) get(ctx context.Context, id int64) (T, error) {
	rec, err := t.store.Get(ctx, t.name, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return t.decode(rec)
}

// all returns every record in key order.
func (t *table[T]) all(ctx context.Context) ([]T, error) {
	records, err := t.store.GetAll(ctx, t.name)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(records, func(a, b store.Record) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return t.decodeAll(records)
}

// byIndex returns matches ordered by index value, then key.
func (t *table[T]) byIndex(ctx context.Context, index string, q store.Query) ([]T, error) {
	records, err := t.store.GetByIndex(ctx, t.name, index, q)
	if err != nil {
		return nil, err
	}
	return t.decodeAll(records)
}

// stageInsert reserves a key for v, stamps it and adds it to b.
func (t *table[T]) stageInsert(ctx context.Context, b *store.Batch, v *T) (int64, error) {
	if err := t.check(v); err != nil {
		return 0, err
	}
	id, err := t.store.Reserve(ctx, t.name)
	if err != nil {
		return 0, err
	}
	t.setID(v, id)
	t.stamp(v, t.now(), true)
	payload, err := t.encode(*v)
	if err != nil {
		return 0, err
	}
	b.Insert(t.name, id, payload)
	return id, nil
}

func (t *table[T]) insert(ctx context.Context, v *T) (int64, error) {
	b := store.NewBatch()
	id, err := t.stageInsert(ctx, b, v)
	if err != nil {
		return 0, err
	}
	if _, err := t.store.Commit(ctx, b); err != nil {
		return 0, err
	}
	return id, nil
}

// modify runs fn against the current record under the key's lock. When fn
// reports a change the result is validated, stamped and written together with
// the inserts fn staged in the batch.
func (t *table[T]) modify(ctx context.Context, id int64, fn func(cur T, b *store.Batch) (T, bool, error)) (T, error) {
	var result T
	err := t.store.Update(ctx, t.name, id, func(rec store.Record) (*store.Batch, error) {
		cur, err := t.decode(rec)
		if err != nil {
			return nil, err
		}
		b := store.NewBatch()
		next, changed, err := fn(cur, b)
		if err != nil {
			return nil, err
		}
		if !changed {
			result = cur
			if b.Len() == 0 {
				return nil, nil
			}
			return b, nil
		}
		if err := t.check(&next); err != nil {
			return nil, err
		}
		t.setID(&next, id)
		t.stamp(&next, t.now(), false)
		payload, err := t.encode(next)
		if err != nil {
			return nil, err
		}
		b.Put(t.name, id, payload)
		result = next
		return b, nil
	})
	return result, err
}

// newestFirst reverses an ascending index scan so the latest values come first.
func newestFirst[T any](items []T) []T {
	slices.Reverse(items)
	return items
}
