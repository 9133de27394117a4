package repository

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/store"
)

const indexSalesEntry = "by_sales_entry"

// Settlements persists reconciliation state. The remaining balance and settled
// flag are re-derived from the amounts on every write.
type Settlements struct {
	t *table[domain.Settlement]
}

func newSettlements(st *store.Store, v *validator.Validate, now func() time.Time) *Settlements {
	return &Settlements{t: &table[domain.Settlement]{
		store:  st,
		name:   CollectionSettlements,
		entity: string(domain.EntitySettlement),
		temporal: temporalFields{
			dates:    []string{"date"},
			instants: []string{"settled_at", "created_at", "updated_at"},
		},
		validate: v,
		now:      now,
		setID:    func(s *domain.Settlement, id int64) { s.ID = id },
		stamp: func(s *domain.Settlement, now time.Time, created bool) {
			if created {
				s.CreatedAt = now
			}
			s.UpdatedAt = now
		},
		prepare: func(s *domain.Settlement) error {
			if s.Date.IsZero() {
				return domain.InvalidInput(string(domain.EntitySettlement), "date", "required")
			}
			if s.ExpectedAmount.IsNegative() {
				return domain.InvalidAmount("expected_amount", "must not be negative")
			}
			if s.SettledAmount.IsNegative() {
				return domain.InvalidAmount("settled_amount", "must not be negative")
			}
			s.Recompute()
			return nil
		},
	}}
}

func (r *Settlements) StageAdd(ctx context.Context, b *store.Batch, s *domain.Settlement) (int64, error) {
	return r.t.stageInsert(ctx, b, s)
}

func (r *Settlements) Get(ctx context.Context, id int64) (domain.Settlement, error) {
	return r.t.get(ctx, id)
}

// ForSalesEntry returns every settlement recorded against the sales entry.
// More than one means the ledger is inconsistent; callers surface that.
func (r *Settlements) ForSalesEntry(ctx context.Context, salesEntryID int64) ([]domain.Settlement, error) {
	return r.t.byIndex(ctx, indexSalesEntry, store.Equal(salesEntryID))
}

func (r *Settlements) ListAll(ctx context.Context) ([]domain.Settlement, error) {
	return r.ListByDateRange(ctx, domain.DateRange{})
}

func (r *Settlements) ListByDateRange(ctx context.Context, rng domain.DateRange) ([]domain.Settlement, error) {
	settlements, err := r.t.byIndex(ctx, IndexDate, dateQuery(rng))
	if err != nil {
		return nil, err
	}
	return newestFirst(settlements), nil
}

// Modify applies fn under the settlement's lock. fn reports whether it changed
// the settlement; inserts it stages in the batch commit with the update.
func (r *Settlements) Modify(ctx context.Context, id int64, fn func(cur domain.Settlement, b *store.Batch) (domain.Settlement, bool, error)) (domain.Settlement, error) {
	return r.t.modify(ctx, id, fn)
}
