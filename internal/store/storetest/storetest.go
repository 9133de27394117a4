// Package storetest is a conformance suite every store.Backend must pass.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/store"
)

// Factory returns a fresh, empty backend. Reopen, when set, returns a second
// handle on the same underlying storage as the backend passed in (after it is closed).
type Factory struct {
	New    func(t *testing.T) store.Backend
	Reopen func(t *testing.T, closed store.Backend) store.Backend
}

var SchemaV1 = store.Schema{
	Version: 1,
	Collections: []store.CollectionSpec{
		{
			Name: "people",
			Indexes: []store.IndexSpec{
				{Name: "by_phone", Field: "phone", Unique: true},
				{Name: "by_age", Field: "age"},
				{Name: "by_day", Field: "day"},
			},
		},
		{Name: "events", Indexes: []store.IndexSpec{{Name: "by_at", Field: "at", Instant: true}}},
	},
}

var SchemaV2 = store.Schema{
	Version: 2,
	Collections: []store.CollectionSpec{
		{
			Name: "people",
			Indexes: []store.IndexSpec{
				{Name: "by_phone", Field: "phone", Unique: true},
				{Name: "by_age", Field: "age"},
				{Name: "by_day", Field: "day"},
				{Name: "by_name", Field: "name"},
			},
		},
		{Name: "events", Indexes: []store.IndexSpec{{Name: "by_at", Field: "at", Instant: true}}},
		{Name: "tags", Indexes: []store.IndexSpec{{Name: "by_label", Field: "label", Unique: true}}},
	},
}

type person struct {
	Name  string  `json:"name"`
	Phone *string `json:"phone,omitempty"`
	Age   int     `json:"age"`
	Day   string  `json:"day,omitempty"`
}

func encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func decodePerson(t *testing.T, b []byte) person {
	t.Helper()
	var p person
	require.NoError(t, json.Unmarshal(b, &p))
	return p
}

func phone(s string) *string { return &s }

func open(t *testing.T, b store.Backend, schema store.Schema) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), b, schema)
	require.NoError(t, err)
	return s
}

// Run exercises the full Record Store contract against backends from f.
func Run(t *testing.T, f Factory) {
	t.Run("AddGetPutDelete", func(t *testing.T) { testCRUD(t, f) })
	t.Run("KeysStartAtOneAndIncrease", func(t *testing.T) { testKeys(t, f) })
	t.Run("UniqueIndex", func(t *testing.T) { testUnique(t, f) })
	t.Run("IndexQueries", func(t *testing.T) { testQueries(t, f) })
	t.Run("InstantIndex", func(t *testing.T) { testInstant(t, f) })
	t.Run("CommitIsAtomic", func(t *testing.T) { testAtomic(t, f) })
	t.Run("UpdateSerializesPerKey", func(t *testing.T) { testUpdateSerializes(t, f) })
	t.Run("UpdateRestrictsBatch", func(t *testing.T) { testUpdateRestricts(t, f) })
	t.Run("SchemaEvolution", func(t *testing.T) { testSchemaEvolution(t, f) })
	t.Run("BackfillCollision", func(t *testing.T) { testBackfillCollision(t, f) })
}

func testCRUD(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f.New(t), SchemaV1)
	defer s.Close()

	key, err := s.Add(ctx, "people", encode(t, person{Name: "Ada", Age: 30}))
	require.NoError(t, err)

	rec, err := s.Get(ctx, "people", key)
	require.NoError(t, err)
	assert.Equal(t, key, rec.Key)
	assert.Equal(t, "Ada", decodePerson(t, rec.Value).Name)

	require.NoError(t, s.Put(ctx, "people", key, encode(t, person{Name: "Ada L", Age: 31})))
	rec, err = s.Get(ctx, "people", key)
	require.NoError(t, err)
	assert.Equal(t, 31, decodePerson(t, rec.Value).Age)

	err = s.Put(ctx, "people", key+100, encode(t, person{Name: "ghost"}))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, s.Delete(ctx, "people", key))
	_, err = s.Get(ctx, "people", key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "people", key), domain.ErrNotFound)

	all, err := s.GetAll(ctx, "people")
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = s.Get(ctx, "nope", 1)
	assert.ErrorIs(t, err, store.ErrUnknownCollection)
}

func testKeys(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f.New(t), SchemaV1)
	defer s.Close()

	first, err := s.Add(ctx, "people", encode(t, person{Name: "a"}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)

	reserved, err := s.Reserve(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, int64(2), reserved)

	third, err := s.Add(ctx, "people", encode(t, person{Name: "c"}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), third)

	other, err := s.Add(ctx, "events", encode(t, map[string]any{"at": time.Now().UTC()}))
	require.NoError(t, err)
	assert.Equal(t, int64(1), other, "keys are per collection")
}

func testUnique(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f.New(t), SchemaV1)
	defer s.Close()

	first, err := s.Add(ctx, "people", encode(t, person{Name: "a", Phone: phone("+2348000000001")}))
	require.NoError(t, err)

	_, err = s.Add(ctx, "people", encode(t, person{Name: "b", Phone: phone("+2348000000001")}))
	require.ErrorIs(t, err, domain.ErrConstraintViolation)
	var derr *domain.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, "phone", derr.Field)
	assert.Equal(t, "people", derr.Entity)

	// absent values are not indexed, so any number of records may omit them
	_, err = s.Add(ctx, "people", encode(t, person{Name: "c"}))
	require.NoError(t, err)
	_, err = s.Add(ctx, "people", encode(t, person{Name: "d"}))
	require.NoError(t, err)

	// rewriting a record with its own unique value is allowed
	require.NoError(t, s.Put(ctx, "people", first, encode(t, person{Name: "a2", Phone: phone("+2348000000001")})))

	second, err := s.Add(ctx, "people", encode(t, person{Name: "e", Phone: phone("+2348000000002")}))
	require.NoError(t, err)
	err = s.Put(ctx, "people", second, encode(t, person{Name: "e", Phone: phone("+2348000000001")}))
	require.ErrorIs(t, err, domain.ErrConstraintViolation)

	// freeing a value makes it available again
	require.NoError(t, s.Delete(ctx, "people", first))
	require.NoError(t, s.Put(ctx, "people", second, encode(t, person{Name: "e", Phone: phone("+2348000000001")})))

	got, err := s.GetByIndex(ctx, "people", "by_phone", store.Equal("+2348000000001"))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second, got[0].Key)
}

func testQueries(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f.New(t), SchemaV1)
	defer s.Close()

	days := []string{"2024-03-03", "2024-03-01", "2024-03-02", "2024-03-02", "2024-03-05"}
	for i, day := range days {
		_, err := s.Add(ctx, "people", encode(t, person{Name: fmt.Sprintf("p%d", i), Age: 20 + i, Day: day}))
		require.NoError(t, err)
	}

	got, err := s.GetByIndex(ctx, "people", "by_day", store.Between(domain.NewDate(2024, 3, 2), domain.NewDate(2024, 3, 3)))
	require.NoError(t, err)
	require.Len(t, got, 3)
	// ordered by value, then key
	assert.Equal(t, []int64{3, 4, 1}, keys(got))

	got, err = s.GetByIndex(ctx, "people", "by_day", store.Equal("2024-03-02"))
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, keys(got))

	got, err = s.GetByIndex(ctx, "people", "by_age", store.AtLeast(23))
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 5}, keys(got))

	got, err = s.GetByIndex(ctx, "people", "by_age", store.AtMost(int64(21)))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, keys(got))

	got, err = s.GetByIndex(ctx, "people", "by_day", store.Between("2024-04-01", "2024-04-30"))
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.GetByIndex(ctx, "people", "missing", store.Equal(1))
	assert.ErrorIs(t, err, store.ErrUnknownIndex)
	_, err = s.GetByIndex(ctx, "people", "by_age", store.Between(1, "x"))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func testInstant(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f.New(t), SchemaV1)
	defer s.Close()

	base := time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC)
	// fractional seconds that would sort wrongly as text
	times := []time.Time{base.Add(500 * time.Millisecond), base, base.Add(120 * time.Millisecond), base.Add(-time.Hour)}
	for _, at := range times {
		_, err := s.Add(ctx, "events", encode(t, map[string]any{"at": at}))
		require.NoError(t, err)
	}

	got, err := s.GetByIndex(ctx, "events", "by_at", store.Between(base, base.Add(time.Second)))
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 1}, keys(got))

	got, err = s.GetByIndex(ctx, "events", "by_at", store.AtMost(base.Add(-time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, keys(got))
}

func testAtomic(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f.New(t), SchemaV1)
	defer s.Close()

	existing, err := s.Add(ctx, "people", encode(t, person{Name: "taken", Phone: phone("+1")}))
	require.NoError(t, err)

	b := store.NewBatch()
	b.Add("people", encode(t, person{Name: "fresh"}))
	b.Put("people", existing, encode(t, person{Name: "renamed", Phone: phone("+1")}))
	b.Add("people", encode(t, person{Name: "dup", Phone: phone("+1")}))
	_, err = s.Commit(ctx, b)
	require.ErrorIs(t, err, domain.ErrConstraintViolation)

	all, err := s.GetAll(ctx, "people")
	require.NoError(t, err)
	require.Len(t, all, 1, "no insert survives a failed batch")
	assert.Equal(t, "taken", decodePerson(t, all[0].Value).Name)

	b = store.NewBatch()
	b.Add("people", encode(t, person{Name: "x", Phone: phone("+2")}))
	b.Add("events", encode(t, map[string]any{"at": time.Now().UTC()}))
	assigned, err := s.Commit(ctx, b)
	require.NoError(t, err)
	assert.Len(t, assigned, 2)
}

func testUpdateSerializes(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f.New(t), SchemaV1)
	defer s.Close()

	key, err := s.Add(ctx, "people", encode(t, person{Name: "counter"}))
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, "people", key, func(cur store.Record) (*store.Batch, error) {
				var p person
				if err := json.Unmarshal(cur.Value, &p); err != nil {
					return nil, err
				}
				p.Age++
				next, err := json.Marshal(p)
				if err != nil {
					return nil, err
				}
				b := store.NewBatch()
				b.Put("people", key, next)
				return b, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := s.Get(ctx, "people", key)
	require.NoError(t, err)
	assert.Equal(t, workers, decodePerson(t, rec.Value).Age)

	err = s.Update(ctx, "people", key+50, func(store.Record) (*store.Batch, error) { return nil, nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testUpdateRestricts(t *testing.T, f Factory) {
	ctx := context.Background()
	s := open(t, f.New(t), SchemaV1)
	defer s.Close()

	a, err := s.Add(ctx, "people", encode(t, person{Name: "a"}))
	require.NoError(t, err)
	other, err := s.Add(ctx, "people", encode(t, person{Name: "b"}))
	require.NoError(t, err)

	err = s.Update(ctx, "people", a, func(store.Record) (*store.Batch, error) {
		b := store.NewBatch()
		b.Put("people", other, encode(t, person{Name: "hijack"}))
		return b, nil
	})
	require.Error(t, err)

	rec, err := s.Get(ctx, "people", other)
	require.NoError(t, err)
	assert.Equal(t, "b", decodePerson(t, rec.Value).Name)

	// inserts into other collections ride along with the update
	err = s.Update(ctx, "people", a, func(store.Record) (*store.Batch, error) {
		b := store.NewBatch()
		b.Put("people", a, encode(t, person{Name: "a2"}))
		b.Add("events", encode(t, map[string]any{"at": time.Now().UTC()}))
		return b, nil
	})
	require.NoError(t, err)
	events, err := s.GetAll(ctx, "events")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	sentinel := errors.New("abort")
	err = s.Update(ctx, "people", a, func(store.Record) (*store.Batch, error) { return nil, sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func testSchemaEvolution(t *testing.T, f Factory) {
	ctx := context.Background()
	backend := f.New(t)
	s := open(t, backend, SchemaV1)

	_, err := s.Add(ctx, "people", encode(t, person{Name: "zed", Age: 40}))
	require.NoError(t, err)
	_, err = s.Add(ctx, "people", encode(t, person{Name: "amy", Age: 41}))
	require.NoError(t, err)

	// same schema again is a no-op
	again, err := store.Open(ctx, backend, SchemaV1)
	require.NoError(t, err)
	all, err := again.GetAll(ctx, "people")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	v2, err := store.Open(ctx, backend, SchemaV2)
	require.NoError(t, err)
	got, err := v2.GetByIndex(ctx, "people", "by_name", store.AtLeast(""))
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, keys(got), "new index is back-filled")

	_, err = v2.Add(ctx, "tags", encode(t, map[string]string{"label": "x"}))
	require.NoError(t, err)

	_, err = store.Open(ctx, backend, SchemaV1)
	assert.ErrorIs(t, err, domain.ErrIncompatibleSchema, "downgrade is refused")

	if f.Reopen != nil {
		require.NoError(t, v2.Close())
		reopened := f.Reopen(t, backend)
		s3, err := store.Open(ctx, reopened, SchemaV2)
		require.NoError(t, err)
		defer s3.Close()
		all, err := s3.GetAll(ctx, "people")
		require.NoError(t, err)
		assert.Len(t, all, 2)
		next, err := s3.Add(ctx, "people", encode(t, person{Name: "new"}))
		require.NoError(t, err)
		assert.Equal(t, int64(3), next, "key counters persist")
		return
	}
	require.NoError(t, v2.Close())
}

func testBackfillCollision(t *testing.T, f Factory) {
	ctx := context.Background()
	backend := f.New(t)
	s := open(t, backend, SchemaV2)

	_, err := s.Add(ctx, "tags", encode(t, map[string]any{"label": "a", "color": "red"}))
	require.NoError(t, err)
	_, err = s.Add(ctx, "tags", encode(t, map[string]any{"label": "b", "color": "red"}))
	require.NoError(t, err)

	v3 := store.Schema{Version: 3, Collections: append([]store.CollectionSpec{}, SchemaV2.Collections...)}
	v3.Collections[2] = store.CollectionSpec{Name: "tags", Indexes: []store.IndexSpec{
		{Name: "by_label", Field: "label", Unique: true},
		{Name: "by_color", Field: "color", Unique: true},
	}}
	_, err = store.Open(ctx, backend, v3)
	require.ErrorIs(t, err, domain.ErrConstraintViolation)

	stored, err := backend.LoadSchema(ctx)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, 2, stored.Version, "failed back-fill leaves the schema unchanged")

	redefined := store.Schema{Version: 3, Collections: append([]store.CollectionSpec{}, SchemaV2.Collections...)}
	redefined.Collections[2] = store.CollectionSpec{Name: "tags", Indexes: []store.IndexSpec{{Name: "by_label", Field: "label"}}}
	_, err = store.Open(ctx, backend, redefined)
	assert.ErrorIs(t, err, domain.ErrIncompatibleSchema)

	removed := store.Schema{Version: 3, Collections: SchemaV2.Collections[:2]}
	_, err = store.Open(ctx, backend, removed)
	assert.ErrorIs(t, err, domain.ErrIncompatibleSchema)
	require.NoError(t, s.Close())
}

func keys(records []store.Record) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.Key
	}
	return out
}
