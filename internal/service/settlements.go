package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/reconcile"
	"fieldledger/backend/internal/session"
)

// RecordSettlement records money received against a sales entry.
func (s *Service) RecordSettlement(ctx context.Context, req domain.SettlementRequest) (reconcile.Result, error) {
	actor, _ := session.ActorFromContext(ctx)
	return s.engine.RecordSettlement(ctx, req.SalesEntryID, req.SettledAmount, actor, req.Notes)
}

func (s *Service) ReopenSettlement(ctx context.Context, salesEntryID int64, settledAmount decimal.Decimal, reason string) (domain.Settlement, error) {
	actor, _ := session.ActorFromContext(ctx)
	return s.engine.Reopen(ctx, salesEntryID, settledAmount, actor, reasonOf(reason))
}

func (s *Service) GetSettlement(ctx context.Context, salesEntryID int64) (domain.Settlement, error) {
	if _, err := requireSupervisor(ctx, "read settlements"); err != nil {
		return domain.Settlement{}, err
	}
	settlements, err := s.repos.Settlements.ForSalesEntry(ctx, salesEntryID)
	if err != nil {
		return domain.Settlement{}, err
	}
	switch len(settlements) {
	case 0:
		notFound := domain.NotFound(string(domain.EntitySettlement), 0)
		notFound.Field = "sales_entry_id"
		return domain.Settlement{}, notFound
	case 1:
		return settlements[0], nil
	}
	return domain.Settlement{}, domain.InvariantViolation(string(domain.EntitySalesEntry), salesEntryID,
		fmt.Sprintf("%d settlements recorded for one sales entry", len(settlements)))
}

func (s *Service) ListSettlements(ctx context.Context, rng domain.DateRange) ([]domain.Settlement, error) {
	if _, err := requireSupervisor(ctx, "read settlements"); err != nil {
		return nil, err
	}
	return s.repos.Settlements.ListByDateRange(ctx, rng)
}

// ListAuditRecords is the review path over the audit ledger, latest change first.
func (s *Service) ListAuditRecords(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditRecord, error) {
	if _, err := requireSupervisor(ctx, "review audit records"); err != nil {
		return nil, err
	}
	return s.ledger.List(ctx, filter)
}

// DailySummary totals sales against settlements per day, newest day first.
// Entries without a settlement count their full expected amount as outstanding.
func (s *Service) DailySummary(ctx context.Context, rng domain.DateRange) ([]domain.DailySummary, error) {
	if _, err := requireSupervisor(ctx, "read daily summaries"); err != nil {
		return nil, err
	}
	entries, err := s.repos.Sales.ListByDateRange(ctx, rng)
	if err != nil {
		return nil, err
	}
	settlements, err := s.repos.Settlements.ListByDateRange(ctx, rng)
	if err != nil {
		return nil, err
	}
	bySale := make(map[int64]domain.Settlement, len(settlements))
	for _, st := range settlements {
		bySale[st.SalesEntryID] = st
	}

	days := make(map[string]*domain.DailySummary)
	for _, entry := range entries {
		day, ok := days[entry.Date.String()]
		if !ok {
			day = &domain.DailySummary{
				Date:             entry.Date,
				ExpectedAmount:   decimal.Zero,
				SettledAmount:    decimal.Zero,
				OutstandingTotal: decimal.Zero,
			}
			days[entry.Date.String()] = day
		}
		day.Entries++
		day.TotalBags += entry.TotalBags

		st, settled := bySale[entry.ID]
		expected := s.engine.ExpectedAmount(entry)
		if settled {
			expected = st.ExpectedAmount
			day.SettledAmount = day.SettledAmount.Add(st.SettledAmount)
			day.OutstandingTotal = day.OutstandingTotal.Add(st.RemainingBalance)
		} else {
			day.OutstandingTotal = day.OutstandingTotal.Add(expected)
		}
		day.ExpectedAmount = day.ExpectedAmount.Add(expected)
		if !settled || !st.IsSettled {
			day.UnsettledEntries++
		}
	}

	out := make([]domain.DailySummary, 0, len(days))
	for _, day := range days {
		out = append(out, *day)
	}
	slices.SortFunc(out, func(a, b domain.DailySummary) int {
		return b.Date.Compare(a.Date)
	})
	return out, nil
}
