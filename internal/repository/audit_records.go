package repository

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/store"
)

// AuditRecords is append-only: there is no update or delete path.
type AuditRecords struct {
	t *table[domain.AuditRecord]
}

func newAuditRecords(st *store.Store, v *validator.Validate, now func() time.Time) *AuditRecords {
	return &AuditRecords{t: &table[domain.AuditRecord]{
		store:    st,
		name:     CollectionAuditRecords,
		entity:   "audit_record",
		temporal: temporalFields{instants: []string{"changed_at"}},
		validate: v,
		now:      now,
		setID:    func(a *domain.AuditRecord, id int64) { a.ID = id },
		stamp: func(a *domain.AuditRecord, now time.Time, created bool) {
			if created && a.ChangedAt.IsZero() {
				a.ChangedAt = now
			}
		},
	}}
}

// Now is the clock audit records are stamped with.
func (r *AuditRecords) Now() time.Time {
	return r.t.now()
}

func (r *AuditRecords) StageAppend(ctx context.Context, b *store.Batch, rec *domain.AuditRecord) (int64, error) {
	return r.t.stageInsert(ctx, b, rec)
}

func (r *AuditRecords) Append(ctx context.Context, rec domain.AuditRecord) (domain.AuditRecord, error) {
	if _, err := r.t.insert(ctx, &rec); err != nil {
		return domain.AuditRecord{}, err
	}
	return rec, nil
}

func (r *AuditRecords) Get(ctx context.Context, id int64) (domain.AuditRecord, error) {
	return r.t.get(ctx, id)
}

// All returns every record in append order.
func (r *AuditRecords) All(ctx context.Context) ([]domain.AuditRecord, error) {
	return r.t.all(ctx)
}

// ForEntityID returns records about any entity with the given id, in append order.
func (r *AuditRecords) ForEntityID(ctx context.Context, id int64) ([]domain.AuditRecord, error) {
	return r.t.byIndex(ctx, "by_entity_id", store.Equal(id))
}

// ForEntity returns the entity's records in append order.
func (r *AuditRecords) ForEntity(ctx context.Context, entity domain.EntityType, id int64) ([]domain.AuditRecord, error) {
	records, err := r.ForEntityID(ctx, id)
	if err != nil {
		return nil, err
	}
	out := records[:0]
	for _, rec := range records {
		if rec.EntityType == entity {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *AuditRecords) ForEntityType(ctx context.Context, entity domain.EntityType) ([]domain.AuditRecord, error) {
	return r.t.byIndex(ctx, "by_entity_type", store.Equal(entity))
}

// ChangedBetween returns records whose change time lies in [from, to], in time order.
func (r *AuditRecords) ChangedBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.AuditRecord, error) {
	return r.t.byIndex(ctx, "by_changed_at", store.Between(from, to))
}

func (r *AuditRecords) ForOperation(ctx context.Context, operationID string) ([]domain.AuditRecord, error) {
	return r.t.byIndex(ctx, "by_operation", store.Equal(operationID))
}
