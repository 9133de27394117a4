// Package audit is the append-only change ledger. Every write path for an
// audit-tracked entity stages its records here into the same batch as the
// mutation, so a failed audit write aborts the change.
package audit

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/repository"
	"fieldledger/backend/internal/store"
	"fieldledger/backend/internal/xid"
)

// Entry describes one audit record before it is written.
type Entry struct {
	EntityType  domain.EntityType
	EntityID    int64
	Action      domain.AuditAction
	Field       string
	OldValue    *string
	NewValue    *string
	Actor       domain.Actor
	Reason      string
	OperationID string
}

type Ledger struct {
	records *repository.AuditRecords
	logger  zerolog.Logger
}

func New(records *repository.AuditRecords, logger zerolog.Logger) *Ledger {
	return &Ledger{
		records: records,
		logger:  logger.With().Str("component", "audit").Logger(),
	}
}

// NewOperationID groups the records written by one logical operation.
func NewOperationID() string {
	return xid.New("op")
}

// Stage adds e to b without committing it.
func (l *Ledger) Stage(ctx context.Context, b *store.Batch, e Entry) (int64, error) {
	rec, err := l.record(e)
	if err != nil {
		return 0, err
	}
	return l.records.StageAppend(ctx, b, &rec)
}

// StageChanges stages one update record per changed field, all sharing one operation id.
func (l *Ledger) StageChanges(ctx context.Context, b *store.Batch, entity domain.EntityType, id int64, changes []domain.FieldChange, actor domain.Actor, reason string) error {
	return l.StageFields(ctx, b, domain.ActionUpdate, entity, id, changes, actor, reason, NewOperationID())
}

// StageFields stages one record per changed field under the given action and operation id.
func (l *Ledger) StageFields(ctx context.Context, b *store.Batch, action domain.AuditAction, entity domain.EntityType, id int64, changes []domain.FieldChange, actor domain.Actor, reason string, opID string) error {
	for _, change := range changes {
		_, err := l.Stage(ctx, b, Entry{
			EntityType:  entity,
			EntityID:    id,
			Action:      action,
			Field:       change.Field,
			OldValue:    change.Old,
			NewValue:    change.New,
			Actor:       actor,
			Reason:      reason,
			OperationID: opID,
		})
		if err != nil {
			return fmt.Errorf("audit %s #%d field %s: %w", entity, id, change.Field, err)
		}
	}
	l.logger.Debug().
		Str("entity", string(entity)).
		Int64("entity_id", id).
		Str("action", string(action)).
		Int("fields", len(changes)).
		Str("operation_id", opID).
		Msg("staged field changes")
	return nil
}

// LogChange appends a record on its own. Mutations use Stage instead so the
// record commits with them.
func (l *Ledger) LogChange(ctx context.Context, e Entry) (domain.AuditRecord, error) {
	rec, err := l.record(e)
	if err != nil {
		return domain.AuditRecord{}, err
	}
	return l.records.Append(ctx, rec)
}

func (l *Ledger) LogCreate(ctx context.Context, entity domain.EntityType, id int64, actor domain.Actor) (domain.AuditRecord, error) {
	return l.LogChange(ctx, Entry{EntityType: entity, EntityID: id, Action: domain.ActionCreate, Actor: actor})
}

func (l *Ledger) LogDelete(ctx context.Context, entity domain.EntityType, id int64, actor domain.Actor, reason string) (domain.AuditRecord, error) {
	return l.LogChange(ctx, Entry{EntityType: entity, EntityID: id, Action: domain.ActionDelete, Actor: actor, Reason: reason})
}

func (l *Ledger) LogSubmit(ctx context.Context, entity domain.EntityType, id int64, actor domain.Actor) (domain.AuditRecord, error) {
	return l.LogChange(ctx, Entry{EntityType: entity, EntityID: id, Action: domain.ActionSubmit, Actor: actor})
}

func (l *Ledger) LogSettle(ctx context.Context, id int64, actor domain.Actor, reason string) (domain.AuditRecord, error) {
	return l.LogChange(ctx, Entry{EntityType: domain.EntitySettlement, EntityID: id, Action: domain.ActionSettle, Actor: actor, Reason: reason})
}

func (l *Ledger) record(e Entry) (domain.AuditRecord, error) {
	if !e.Actor.Present() {
		return domain.AuditRecord{}, domain.Unauthenticated("audit " + string(e.Action))
	}
	return domain.AuditRecord{
		EntityType:  e.EntityType,
		EntityID:    e.EntityID,
		Action:      e.Action,
		Field:       e.Field,
		OldValue:    e.OldValue,
		NewValue:    e.NewValue,
		ChangedBy:   e.Actor.UserID,
		ChangedAt:   l.records.Now(),
		Reason:      e.Reason,
		OperationID: e.OperationID,
	}, nil
}

// List returns matching records, latest change first. Records with the same
// change time keep their append order.
func (l *Ledger) List(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	var (
		records []domain.AuditRecord
		err     error
	)
	switch {
	case filter.EntityID > 0 && filter.EntityType != "":
		records, err = l.records.ForEntity(ctx, filter.EntityType, filter.EntityID)
	case filter.EntityID > 0:
		records, err = l.records.ForEntityID(ctx, filter.EntityID)
	case filter.EntityType != "":
		records, err = l.records.ForEntityType(ctx, filter.EntityType)
	case !filter.Range.From.IsZero() || !filter.Range.To.IsZero():
		from, to := instantBounds(filter.Range)
		records, err = l.records.ChangedBetween(ctx, from, to)
	default:
		records, err = l.records.All(ctx)
	}
	if err != nil {
		return nil, err
	}

	out := records[:0]
	for _, rec := range records {
		if filter.EntityType != "" && rec.EntityType != filter.EntityType {
			continue
		}
		if !filter.Range.Contains(domain.DateOf(rec.ChangedAt.UTC())) {
			continue
		}
		out = append(out, rec)
	}

	slices.SortStableFunc(out, func(a, b domain.AuditRecord) int {
		if c := b.ChangedAt.Compare(a.ChangedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// instantBounds widens a day range to the instants it covers.
func instantBounds(r domain.DateRange) (time.Time, time.Time) {
	from := time.Unix(0, 0).UTC()
	if !r.From.IsZero() {
		from = r.From.Time()
	}
	to := time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
	if !r.To.IsZero() {
		to = r.To.AddDays(1).Time().Add(-time.Microsecond)
	}
	return from, to
}
