// Package reconcile keeps each sales entry's settlement consistent with the
// amount the entry is expected to bring in.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fieldledger/backend/internal/audit"
	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/notify"
	"fieldledger/backend/internal/repository"
	"fieldledger/backend/internal/store"
)

var (
	DefaultPriceTier1 = decimal.NewFromInt(250)
	DefaultPriceTier2 = decimal.NewFromInt(270)
)

type Config struct {
	PriceTier1 decimal.Decimal
	PriceTier2 decimal.Decimal
	// ReopenOnUnderpayment clears settledAt when a settled entry is re-settled
	// to an amount that leaves a positive balance. Otherwise settledAt keeps
	// the time the entry was first fully settled.
	ReopenOnUnderpayment bool
}

// Result describes what RecordSettlement wrote.
type Result struct {
	Settlement   domain.Settlement    `json:"settlement"`
	Created      bool                 `json:"created"`
	Completed    bool                 `json:"completed"`
	Reopened     bool                 `json:"reopened"`
	Notification *domain.Notification `json:"notification,omitempty"`
}

type Engine struct {
	store    *store.Store
	repos    *repository.Repositories
	ledger   *audit.Ledger
	notifier *notify.Notifier
	cfg      Config
	logger   zerolog.Logger
}

func New(st *store.Store, repos *repository.Repositories, ledger *audit.Ledger, notifier *notify.Notifier, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.PriceTier1.IsZero() {
		cfg.PriceTier1 = DefaultPriceTier1
	}
	if cfg.PriceTier2.IsZero() {
		cfg.PriceTier2 = DefaultPriceTier2
	}
	return &Engine{
		store:    st,
		repos:    repos,
		ledger:   ledger,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "reconcile").Logger(),
	}
}

func ComputeExpectedAmount(entry domain.SalesEntry, priceTier1 decimal.Decimal, priceTier2 decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(entry.BagsAtPrice1)).Mul(priceTier1).
		Add(decimal.NewFromInt(int64(entry.BagsAtPrice2)).Mul(priceTier2))
}

// ExpectedAmount prices entry at the configured tiers.
func (e *Engine) ExpectedAmount(entry domain.SalesEntry) decimal.Decimal {
	return ComputeExpectedAmount(entry, e.cfg.PriceTier1, e.cfg.PriceTier2)
}

// ParseAmount reads a settlement amount typed by an operator.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if raw == "" {
		return decimal.Zero, domain.InvalidAmount("settled_amount", "amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, domain.InvalidAmount("settled_amount", fmt.Sprintf("%q is not a number", raw))
	}
	if amount.IsNegative() {
		return decimal.Zero, domain.InvalidAmount("settled_amount", "must not be negative")
	}
	return amount, nil
}

// RecordSettlement records settledAmount against the sales entry, creating its
// settlement on first use. Settlements of one entry are serialized, and the
// settlement, its audit records and any completion notification commit in one batch.
func (e *Engine) RecordSettlement(ctx context.Context, salesEntryID int64, settledAmount decimal.Decimal, actor domain.Actor, notes string) (Result, error) {
	if err := authorize(actor, "record settlement", salesEntryID); err != nil {
		return Result{}, err
	}
	if settledAmount.IsNegative() {
		return Result{}, domain.InvalidAmount("settled_amount", "must not be negative")
	}

	unlock, err := e.store.Lock(ctx, lockName(salesEntryID))
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	entry, existing, err := e.load(ctx, salesEntryID)
	if err != nil {
		return Result{}, err
	}

	var res Result
	if existing == nil {
		res, err = e.create(ctx, entry, settledAmount, actor, notes)
	} else {
		res, err = e.resettle(ctx, entry, *existing, settledAmount, actor, notes)
	}
	if err != nil {
		return Result{}, err
	}

	if res.Notification != nil {
		e.notifier.Published(ctx, *res.Notification)
	}
	e.logger.Info().
		Int64("sales_entry_id", salesEntryID).
		Int64("settlement_id", res.Settlement.ID).
		Str("settled_amount", res.Settlement.SettledAmount.String()).
		Str("remaining_balance", res.Settlement.RemainingBalance.String()).
		Bool("is_settled", res.Settlement.IsSettled).
		Bool("created", res.Created).
		Msg("settlement recorded")
	return res, nil
}

// Reopen lowers the settled amount of a settled entry so that a balance is
// outstanding again, clearing settledAt whatever ReopenOnUnderpayment says.
func (e *Engine) Reopen(ctx context.Context, salesEntryID int64, settledAmount decimal.Decimal, actor domain.Actor, reason string) (domain.Settlement, error) {
	if strings.TrimSpace(reason) == "" {
		return domain.Settlement{}, domain.ReasonRequired(string(domain.EntitySalesEntry), salesEntryID)
	}
	if err := authorize(actor, "reopen settlement", salesEntryID); err != nil {
		return domain.Settlement{}, err
	}
	if settledAmount.IsNegative() {
		return domain.Settlement{}, domain.InvalidAmount("settled_amount", "must not be negative")
	}

	unlock, err := e.store.Lock(ctx, lockName(salesEntryID))
	if err != nil {
		return domain.Settlement{}, err
	}
	defer unlock()

	_, existing, err := e.load(ctx, salesEntryID)
	if err != nil {
		return domain.Settlement{}, err
	}
	if existing == nil {
		notFound := domain.NotFound(string(domain.EntitySettlement), 0)
		notFound.Field = "sales_entry_id"
		return domain.Settlement{}, notFound
	}

	opID := audit.NewOperationID()
	reopened, err := e.repos.Settlements.Modify(ctx, existing.ID, func(cur domain.Settlement, b *store.Batch) (domain.Settlement, bool, error) {
		if !cur.IsSettled && cur.SettledAt == nil {
			return cur, false, domain.InvalidInput(string(domain.EntitySettlement), "is_settled", "settlement is not settled")
		}
		before := cur
		cur.SettledAmount = settledAmount
		cur.SettledBy = actor.UserID
		cur.SettledAt = nil
		cur.Recompute()
		if cur.IsSettled {
			return cur, false, domain.InvalidAmount("settled_amount", "reopening must leave a balance outstanding")
		}
		changes := domain.DiffSettlement(before, cur)
		if err := e.ledger.StageFields(ctx, b, domain.ActionUpdate, domain.EntitySettlement, cur.ID, changes, actor, reason, opID); err != nil {
			return cur, false, err
		}
		return cur, true, nil
	})
	if err != nil {
		return domain.Settlement{}, err
	}
	e.logger.Info().
		Int64("sales_entry_id", salesEntryID).
		Int64("settlement_id", reopened.ID).
		Str("remaining_balance", reopened.RemainingBalance.String()).
		Str("operation_id", opID).
		Msg("settlement reopened")
	return reopened, nil
}

func (e *Engine) load(ctx context.Context, salesEntryID int64) (domain.SalesEntry, *domain.Settlement, error) {
	entry, err := e.repos.Sales.Get(ctx, salesEntryID)
	if err != nil {
		return domain.SalesEntry{}, nil, err
	}
	settlements, err := e.repos.Settlements.ForSalesEntry(ctx, salesEntryID)
	if err != nil {
		return domain.SalesEntry{}, nil, err
	}
	switch len(settlements) {
	case 0:
		return entry, nil, nil
	case 1:
		return entry, &settlements[0], nil
	}
	return domain.SalesEntry{}, nil, domain.InvariantViolation(string(domain.EntitySalesEntry), salesEntryID,
		fmt.Sprintf("%d settlements recorded for one sales entry", len(settlements)))
}

func (e *Engine) create(ctx context.Context, entry domain.SalesEntry, amount decimal.Decimal, actor domain.Actor, notes string) (Result, error) {
	now := e.repos.Now()
	s := domain.Settlement{
		Date:           entry.Date,
		SalesEntryID:   entry.ID,
		ExpectedAmount: e.ExpectedAmount(entry),
		SettledAmount:  amount,
		SettledBy:      actor.UserID,
		Notes:          notes,
	}
	s.Recompute()
	if s.IsSettled {
		s.SettledAt = &now
	}

	b := store.NewBatch()
	id, err := e.repos.Settlements.StageAdd(ctx, b, &s)
	if err != nil {
		return Result{}, err
	}
	opID := audit.NewOperationID()
	if _, err := e.ledger.Stage(ctx, b, audit.Entry{
		EntityType:  domain.EntitySettlement,
		EntityID:    id,
		Action:      domain.ActionCreate,
		Actor:       actor,
		OperationID: opID,
	}); err != nil {
		return Result{}, err
	}

	res := Result{Settlement: s, Created: true}
	if s.IsSettled {
		note, err := e.stageCompletion(ctx, b, entry, s, actor, opID)
		if err != nil {
			return Result{}, err
		}
		res.Completed = true
		res.Notification = note
	}
	if _, err := e.store.Commit(ctx, b); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (e *Engine) resettle(ctx context.Context, entry domain.SalesEntry, existing domain.Settlement, amount decimal.Decimal, actor domain.Actor, notes string) (Result, error) {
	var res Result
	opID := audit.NewOperationID()
	updated, err := e.repos.Settlements.Modify(ctx, existing.ID, func(cur domain.Settlement, b *store.Batch) (domain.Settlement, bool, error) {
		res = Result{}
		before := cur
		wasSettled := cur.IsSettled

		cur.ExpectedAmount = e.ExpectedAmount(entry)
		cur.SettledAmount = amount
		cur.SettledBy = actor.UserID
		if notes != "" {
			cur.Notes = notes
		}
		cur.Recompute()

		switch {
		case cur.IsSettled && !wasSettled:
			now := e.repos.Now()
			cur.SettledAt = &now
			res.Completed = true
		case !cur.IsSettled && wasSettled && e.cfg.ReopenOnUnderpayment:
			cur.SettledAt = nil
			res.Reopened = true
		}

		changes := domain.DiffSettlement(before, cur)
		if len(changes) == 0 {
			return cur, false, nil
		}
		action := domain.ActionUpdate
		if res.Completed {
			action = domain.ActionSettle
		}
		if err := e.ledger.StageFields(ctx, b, action, domain.EntitySettlement, cur.ID, changes, actor, notes, opID); err != nil {
			return cur, false, err
		}
		if res.Completed {
			note, err := e.stageNotification(ctx, b, entry, cur)
			if err != nil {
				return cur, false, err
			}
			res.Notification = note
		}
		return cur, true, nil
	})
	if err != nil {
		return Result{}, err
	}
	res.Settlement = updated
	return res, nil
}

// stageCompletion records the settle action and the submitter's notification.
func (e *Engine) stageCompletion(ctx context.Context, b *store.Batch, entry domain.SalesEntry, s domain.Settlement, actor domain.Actor, opID string) (*domain.Notification, error) {
	if _, err := e.ledger.Stage(ctx, b, audit.Entry{
		EntityType:  domain.EntitySettlement,
		EntityID:    s.ID,
		Action:      domain.ActionSettle,
		Actor:       actor,
		Reason:      s.Notes,
		OperationID: opID,
	}); err != nil {
		return nil, err
	}
	return e.stageNotification(ctx, b, entry, s)
}

func (e *Engine) stageNotification(ctx context.Context, b *store.Batch, entry domain.SalesEntry, s domain.Settlement) (*domain.Notification, error) {
	note := notify.SettlementComplete(entry, s)
	if _, err := e.notifier.Stage(ctx, b, &note); err != nil {
		return nil, err
	}
	return &note, nil
}

func authorize(actor domain.Actor, operation string, salesEntryID int64) error {
	if !actor.Present() {
		return domain.Unauthenticated(operation)
	}
	if !actor.Role.Supervisor() {
		return domain.Forbidden(string(domain.EntitySalesEntry), salesEntryID, "only managers and directors reconcile sales")
	}
	return nil
}

func lockName(salesEntryID int64) string {
	return fmt.Sprintf("settlement/sales_entry/%d", salesEntryID)
}
