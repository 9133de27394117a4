package repository

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/store"
)

type SalesEntries struct {
	t       *table[domain.SalesEntry]
	auditor Auditor
}

func newSalesEntries(st *store.Store, v *validator.Validate, now func() time.Time) *SalesEntries {
	return &SalesEntries{t: &table[domain.SalesEntry]{
		store:  st,
		name:   CollectionSalesEntries,
		entity: string(domain.EntitySalesEntry),
		temporal: temporalFields{
			dates:    []string{"date"},
			instants: []string{"submitted_at", "created_at", "updated_at"},
		},
		validate: v,
		now:      now,
		setID:    func(e *domain.SalesEntry, id int64) { e.ID = id },
		stamp: func(e *domain.SalesEntry, now time.Time, created bool) {
			if created {
				e.CreatedAt = now
			}
			e.UpdatedAt = now
		},
		prepare: func(e *domain.SalesEntry) error {
			if e.Date.IsZero() {
				return domain.InvalidInput(string(domain.EntitySalesEntry), "date", "required")
			}
			e.TotalBags = e.BagsAtPrice1 + e.BagsAtPrice2
			return nil
		},
	}}
}

// StageAdd validates e, assigns its id and adds the insert to b.
func (r *SalesEntries) StageAdd(ctx context.Context, b *store.Batch, e *domain.SalesEntry) (int64, error) {
	return r.t.stageInsert(ctx, b, e)
}

func (r *SalesEntries) Add(ctx context.Context, e domain.SalesEntry) (domain.SalesEntry, error) {
	if _, err := r.t.insert(ctx, &e); err != nil {
		return domain.SalesEntry{}, err
	}
	return e, nil
}

func (r *SalesEntries) Get(ctx context.Context, id int64) (domain.SalesEntry, error) {
	return r.t.get(ctx, id)
}

// ListAll returns every entry, newest date first.
func (r *SalesEntries) ListAll(ctx context.Context) ([]domain.SalesEntry, error) {
	return r.ListByDateRange(ctx, domain.DateRange{})
}

// ListByDateRange returns entries dated within the inclusive range, newest date first.
func (r *SalesEntries) ListByDateRange(ctx context.Context, rng domain.DateRange) ([]domain.SalesEntry, error) {
	entries, err := r.t.byIndex(ctx, IndexDate, dateQuery(rng))
	if err != nil {
		return nil, err
	}
	return newestFirst(entries), nil
}

func (r *SalesEntries) ListBySubmitter(ctx context.Context, userID int64, rng domain.DateRange) ([]domain.SalesEntry, error) {
	entries, err := r.t.byIndex(ctx, IndexSubmittedBy, store.Equal(userID))
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if rng.Contains(e.Date) {
			out = append(out, e)
		}
	}
	sortByDateDesc(out, salesKey)
	return out, nil
}

func (r *SalesEntries) ListByDriver(ctx context.Context, driverID int64) ([]domain.SalesEntry, error) {
	entries, err := r.t.byIndex(ctx, "by_driver", store.Equal(driverID))
	if err != nil {
		return nil, err
	}
	sortByDateDesc(entries, salesKey)
	return entries, nil
}

// UpdateWithReason is the only write path for a submitted entry. The changed
// fields and their audit records commit together; a patch that changes
// nothing writes nothing.
func (r *SalesEntries) UpdateWithReason(ctx context.Context, id int64, patch domain.SalesEntryPatch, actor domain.Actor, reason string) (domain.SalesEntry, []domain.FieldChange, error) {
	if err := authorizeAuditedUpdate(domain.EntitySalesEntry, id, actor, reason, domain.RoleReceptionist); err != nil {
		return domain.SalesEntry{}, nil, err
	}
	if r.auditor == nil {
		return domain.SalesEntry{}, nil, ErrNoAuditor
	}

	var changes []domain.FieldChange
	updated, err := r.t.modify(ctx, id, func(cur domain.SalesEntry, b *store.Batch) (domain.SalesEntry, bool, error) {
		changes = patch.Apply(&cur)
		if len(changes) == 0 {
			return cur, false, nil
		}
		if err := r.auditor.StageChanges(ctx, b, domain.EntitySalesEntry, id, changes, actor, reason); err != nil {
			return cur, false, err
		}
		return cur, true, nil
	})
	if err != nil {
		return domain.SalesEntry{}, nil, err
	}
	return updated, changes, nil
}

func salesKey(e domain.SalesEntry) (domain.Date, int64) {
	return e.Date, e.ID
}
