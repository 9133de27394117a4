package repository

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/store"
)

type StockEntries struct {
	t       *table[domain.StockEntry]
	auditor Auditor
}

func newStockEntries(st *store.Store, v *validator.Validate, now func() time.Time) *StockEntries {
	return &StockEntries{t: &table[domain.StockEntry]{
		store:  st,
		name:   CollectionStockEntries,
		entity: string(domain.EntityStockEntry),
		temporal: temporalFields{
			dates:    []string{"date"},
			instants: []string{"submitted_at", "created_at", "updated_at"},
		},
		validate: v,
		now:      now,
		setID:    func(e *domain.StockEntry, id int64) { e.ID = id },
		stamp: func(e *domain.StockEntry, now time.Time, created bool) {
			if created {
				e.CreatedAt = now
			}
			e.UpdatedAt = now
		},
		prepare: func(e *domain.StockEntry) error {
			if e.Date.IsZero() {
				return domain.InvalidInput(string(domain.EntityStockEntry), "date", "required")
			}
			return nil
		},
	}}
}

func (r *StockEntries) StageAdd(ctx context.Context, b *store.Batch, e *domain.StockEntry) (int64, error) {
	return r.t.stageInsert(ctx, b, e)
}

func (r *StockEntries) Add(ctx context.Context, e domain.StockEntry) (domain.StockEntry, error) {
	if _, err := r.t.insert(ctx, &e); err != nil {
		return domain.StockEntry{}, err
	}
	return e, nil
}

func (r *StockEntries) Get(ctx context.Context, id int64) (domain.StockEntry, error) {
	return r.t.get(ctx, id)
}

func (r *StockEntries) ListAll(ctx context.Context) ([]domain.StockEntry, error) {
	return r.ListByDateRange(ctx, domain.DateRange{})
}

func (r *StockEntries) ListByDateRange(ctx context.Context, rng domain.DateRange) ([]domain.StockEntry, error) {
	entries, err := r.t.byIndex(ctx, IndexDate, dateQuery(rng))
	if err != nil {
		return nil, err
	}
	return newestFirst(entries), nil
}

func (r *StockEntries) ListByType(ctx context.Context, entryType domain.StockEntryType, rng domain.DateRange) ([]domain.StockEntry, error) {
	entries, err := r.t.byIndex(ctx, "by_entry_type", store.Equal(entryType))
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if rng.Contains(e.Date) {
			out = append(out, e)
		}
	}
	sortByDateDesc(out, stockKey)
	return out, nil
}

func (r *StockEntries) UpdateWithReason(ctx context.Context, id int64, patch domain.StockEntryPatch, actor domain.Actor, reason string) (domain.StockEntry, []domain.FieldChange, error) {
	if err := authorizeAuditedUpdate(domain.EntityStockEntry, id, actor, reason, domain.RoleStorekeeper); err != nil {
		return domain.StockEntry{}, nil, err
	}
	if r.auditor == nil {
		return domain.StockEntry{}, nil, ErrNoAuditor
	}

	var changes []domain.FieldChange
	updated, err := r.t.modify(ctx, id, func(cur domain.StockEntry, b *store.Batch) (domain.StockEntry, bool, error) {
		changes = patch.Apply(&cur)
		if len(changes) == 0 {
			return cur, false, nil
		}
		if err := r.auditor.StageChanges(ctx, b, domain.EntityStockEntry, id, changes, actor, reason); err != nil {
			return cur, false, err
		}
		return cur, true, nil
	})
	if err != nil {
		return domain.StockEntry{}, nil, err
	}
	return updated, changes, nil
}

func stockKey(e domain.StockEntry) (domain.Date, int64) {
	return e.Date, e.ID
}
