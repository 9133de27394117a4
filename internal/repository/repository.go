// Package repository maps ledger entities onto record store collections. Each
// repository stamps timestamps on write, normalizes temporal fields on read
// and merges typed patches over the stored record under the record's lock.
package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/store"
)

// ErrNoAuditor is returned by audited updates when no ledger has been attached.
var ErrNoAuditor = errors.New("repository: no audit ledger attached")

// Auditor stages field-level audit records into the batch of the mutation
// they describe, so both commit or neither does.
type Auditor interface {
	StageChanges(ctx context.Context, b *store.Batch, entity domain.EntityType, id int64, changes []domain.FieldChange, actor domain.Actor, reason string) error
}

type Options struct {
	// PhoneRegion is the default region for phone numbers written without a country code.
	PhoneRegion string
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

type Repositories struct {
	Sales         *SalesEntries
	Stock         *StockEntries
	Settlements   *Settlements
	Audit         *AuditRecords
	Notifications *Notifications
	Users         *UserAccounts
	Staff         *StaffProfiles

	now func() time.Time
}

func New(st *store.Store, opts Options) *Repositories {
	now := opts.Now
	if now == nil {
		now = clock
	}
	region := opts.PhoneRegion
	if region == "" {
		region = "NG"
	}
	v := newValidator()
	return &Repositories{
		Sales:         newSalesEntries(st, v, now),
		Stock:         newStockEntries(st, v, now),
		Settlements:   newSettlements(st, v, now),
		Audit:         newAuditRecords(st, v, now),
		Notifications: newNotifications(st, v, now),
		Users:         newUserAccounts(st, v, now, region),
		Staff:         newStaffProfiles(st, v, now, region),
		now:           now,
	}
}

// Now is the clock every repository stamps records with.
func (r *Repositories) Now() time.Time {
	return r.now()
}

// UseAuditor attaches the audit ledger to every repository with an audited update path.
func (r *Repositories) UseAuditor(a Auditor) {
	r.Sales.auditor = a
	r.Stock.auditor = a
	r.Users.auditor = a
}

// clock drops the monotonic reading so stamped times survive a JSON round trip unchanged.
func clock() time.Time {
	return time.Now().UTC().Round(0)
}

// authorizeAuditedUpdate applies the checks every audited update makes before
// reading anything: a reason, an actor, and a supervisory role. originator is
// the role that submits the entity and may never write it again.
func authorizeAuditedUpdate(entity domain.EntityType, id int64, actor domain.Actor, reason string, originator domain.Role) error {
	if strings.TrimSpace(reason) == "" {
		return domain.ReasonRequired(string(entity), id)
	}
	if !actor.Present() {
		return domain.Unauthenticated("update " + string(entity))
	}
	if actor.Role.Supervisor() {
		return nil
	}
	if actor.Role == originator {
		return domain.Immutable(string(entity), id)
	}
	return domain.Forbidden(string(entity), id, "role "+string(actor.Role)+" cannot correct entries")
}
