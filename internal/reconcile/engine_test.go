package reconcile_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldledger/backend/internal/audit"
	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/notify"
	"fieldledger/backend/internal/reconcile"
	"fieldledger/backend/internal/repository"
	"fieldledger/backend/internal/store"
	"fieldledger/backend/internal/store/memory"
)

var (
	manager      = domain.Actor{UserID: 2, Role: domain.RoleManager, Name: "Ada"}
	receptionist = domain.Actor{UserID: 7, Role: domain.RoleReceptionist, Name: "Bola"}
)

type recordingPublisher struct {
	mu        sync.Mutex
	published []domain.Notification
}

func (p *recordingPublisher) Publish(_ context.Context, n domain.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, n)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type fixture struct {
	store     *store.Store
	repos     *repository.Repositories
	ledger    *audit.Ledger
	engine    *reconcile.Engine
	publisher *recordingPublisher
}

func newFixture(t *testing.T, cfg reconcile.Config) fixture {
	t.Helper()
	return newFixtureWithSchema(t, cfg, repository.Schema())
}

func newFixtureWithSchema(t *testing.T, cfg reconcile.Config, schema store.Schema) fixture {
	t.Helper()
	st, err := store.Open(context.Background(), memory.New(), schema)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	repos := repository.New(st, repository.Options{})
	ledger := audit.New(repos.Audit, zerolog.Nop())
	repos.UseAuditor(ledger)
	publisher := &recordingPublisher{}
	notifier := notify.New(repos.Notifications, publisher, zerolog.Nop())
	return fixture{
		store:     st,
		repos:     repos,
		ledger:    ledger,
		engine:    reconcile.New(st, repos, ledger, notifier, cfg, zerolog.Nop()),
		publisher: publisher,
	}
}

// addSale stores 10 bags at tier one and 5 at tier two, 3850 at default prices.
func (f fixture) addSale(t *testing.T) domain.SalesEntry {
	t.Helper()
	entry, err := f.repos.Sales.Add(context.Background(), domain.SalesEntry{
		Date:         domain.NewDate(2024, time.January, 2),
		SaleType:     domain.SaleTypeGeneral,
		BagsAtPrice1: 10,
		BagsAtPrice2: 5,
		SubmittedBy:  receptionist.UserID,
		SubmittedAt:  time.Now().UTC(),
		IsSubmitted:  true,
	})
	require.NoError(t, err)
	return entry
}

func (f fixture) notificationsFor(t *testing.T, userID int64) []domain.Notification {
	t.Helper()
	notes, err := f.repos.Notifications.ForUser(context.Background(), userID)
	require.NoError(t, err)
	return notes
}

func amount(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func TestComputeExpectedAmount(t *testing.T) {
	entry := domain.SalesEntry{BagsAtPrice1: 10, BagsAtPrice2: 5}

	assert.True(t, reconcile.ComputeExpectedAmount(entry, reconcile.DefaultPriceTier1, reconcile.DefaultPriceTier2).Equal(amount(3850)))
	assert.True(t, reconcile.ComputeExpectedAmount(entry, amount(300), amount(320)).Equal(amount(4600)))
	assert.True(t, reconcile.ComputeExpectedAmount(domain.SalesEntry{}, amount(300), amount(320)).IsZero())
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{raw: "3850", want: "3850"},
		{raw: "3,850", want: "3850"},
		{raw: " 12.50 ", want: "12.5"},
		{raw: "0", want: "0"},
		{raw: "", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "-5", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := reconcile.ParseAmount(tt.raw)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestFullSettlementCompletesAndNotifiesOnce(t *testing.T) {
	f := newFixture(t, reconcile.Config{})
	ctx := context.Background()
	entry := f.addSale(t)

	res, err := f.engine.RecordSettlement(ctx, entry.ID, amount(3850), manager, "cash")
	require.NoError(t, err)

	s := res.Settlement
	assert.True(t, res.Created)
	assert.True(t, res.Completed)
	assert.True(t, s.ExpectedAmount.Equal(amount(3850)))
	assert.True(t, s.RemainingBalance.IsZero())
	assert.True(t, s.IsSettled)
	require.NotNil(t, s.SettledAt)
	assert.Equal(t, manager.UserID, s.SettledBy)
	assert.Equal(t, entry.Date, s.Date)

	require.NotNil(t, res.Notification)
	assert.Equal(t, domain.NotificationSettlementComplete, res.Notification.Type)
	assert.Equal(t, receptionist.UserID, res.Notification.UserID)
	require.NotNil(t, res.Notification.RelatedEntityID)
	assert.Equal(t, s.ID, *res.Notification.RelatedEntityID)
	assert.Contains(t, res.Notification.Message, "3850.00")

	notes := f.notificationsFor(t, receptionist.UserID)
	require.Len(t, notes, 1)
	assert.False(t, notes[0].IsRead)
	assert.Equal(t, 1, f.publisher.count())

	records, err := f.ledger.List(ctx, domain.AuditFilter{EntityType: domain.EntitySettlement, EntityID: s.ID})
	require.NoError(t, err)
	actions := map[domain.AuditAction]int{}
	for _, rec := range records {
		actions[rec.Action]++
		assert.Equal(t, records[0].OperationID, rec.OperationID)
	}
	assert.Equal(t, map[domain.AuditAction]int{domain.ActionCreate: 1, domain.ActionSettle: 1}, actions)
}

func TestPartialSettlementLeavesBalance(t *testing.T) {
	f := newFixture(t, reconcile.Config{})
	ctx := context.Background()
	entry := f.addSale(t)

	res, err := f.engine.RecordSettlement(ctx, entry.ID, amount(2000), manager, "")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Completed)
	assert.Nil(t, res.Notification)
	assert.True(t, res.Settlement.RemainingBalance.Equal(amount(1850)))
	assert.False(t, res.Settlement.IsSettled)
	assert.Nil(t, res.Settlement.SettledAt)
	assert.Empty(t, f.notificationsFor(t, receptionist.UserID))

	res, err = f.engine.RecordSettlement(ctx, entry.ID, amount(3850), manager, "balance paid")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.True(t, res.Completed)
	assert.True(t, res.Settlement.IsSettled)
	require.NotNil(t, res.Settlement.SettledAt)
	assert.Equal(t, "balance paid", res.Settlement.Notes)

	// recording the same amount again changes nothing and sends nothing
	res, err = f.engine.RecordSettlement(ctx, entry.ID, amount(3850), manager, "")
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Nil(t, res.Notification)

	assert.Len(t, f.notificationsFor(t, receptionist.UserID), 1)
	assert.Equal(t, 1, f.publisher.count())

	settlements, err := f.repos.Settlements.ForSalesEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Len(t, settlements, 1)
}

func TestOverpaymentSettlesWithNegativeBalance(t *testing.T) {
	f := newFixture(t, reconcile.Config{})
	entry := f.addSale(t)

	res, err := f.engine.RecordSettlement(context.Background(), entry.ID, amount(4000), manager, "")
	require.NoError(t, err)
	assert.True(t, res.Settlement.IsSettled)
	assert.True(t, res.Settlement.RemainingBalance.Equal(amount(-150)))
}

func TestRecordSettlementRejects(t *testing.T) {
	f := newFixture(t, reconcile.Config{})
	ctx := context.Background()
	entry := f.addSale(t)

	_, err := f.engine.RecordSettlement(ctx, entry.ID, amount(-1), manager, "")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	_, err = f.engine.RecordSettlement(ctx, 9999, amount(100), manager, "")
	require.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.engine.RecordSettlement(ctx, entry.ID, amount(100), receptionist, "")
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.engine.RecordSettlement(ctx, entry.ID, amount(100), domain.Actor{}, "")
	require.ErrorIs(t, err, domain.ErrUnauthenticated)

	settlements, err := f.repos.Settlements.ForSalesEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Empty(t, settlements)
}

func TestResettlementUsesCorrectedBagCounts(t *testing.T) {
	f := newFixture(t, reconcile.Config{})
	ctx := context.Background()
	entry := f.addSale(t)

	_, err := f.engine.RecordSettlement(ctx, entry.ID, amount(2000), manager, "")
	require.NoError(t, err)

	twelve := 12
	_, _, err = f.repos.Sales.UpdateWithReason(ctx, entry.ID, domain.SalesEntryPatch{BagsAtPrice1: &twelve}, manager, "miscounted bags")
	require.NoError(t, err)

	res, err := f.engine.RecordSettlement(ctx, entry.ID, amount(4350), manager, "")
	require.NoError(t, err)
	assert.True(t, res.Settlement.ExpectedAmount.Equal(amount(4350)))
	assert.True(t, res.Settlement.IsSettled)
	assert.True(t, res.Completed)
}

func TestUnderpaymentAfterSettlement(t *testing.T) {
	tests := []struct {
		name         string
		reopen       bool
		wantReopened bool
	}{
		{name: "keeps settled time", reopen: false},
		{name: "clears settled time", reopen: true, wantReopened: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, reconcile.Config{ReopenOnUnderpayment: tt.reopen})
			ctx := context.Background()
			entry := f.addSale(t)

			first, err := f.engine.RecordSettlement(ctx, entry.ID, amount(3850), manager, "")
			require.NoError(t, err)
			require.NotNil(t, first.Settlement.SettledAt)

			res, err := f.engine.RecordSettlement(ctx, entry.ID, amount(3000), manager, "short")
			require.NoError(t, err)
			assert.False(t, res.Settlement.IsSettled)
			assert.True(t, res.Settlement.RemainingBalance.Equal(amount(850)))
			assert.Equal(t, tt.wantReopened, res.Reopened)
			if tt.wantReopened {
				assert.Nil(t, res.Settlement.SettledAt)
			} else {
				require.NotNil(t, res.Settlement.SettledAt)
				assert.True(t, first.Settlement.SettledAt.Equal(*res.Settlement.SettledAt))
			}
			assert.Len(t, f.notificationsFor(t, receptionist.UserID), 1)
		})
	}
}

func TestReopen(t *testing.T) {
	f := newFixture(t, reconcile.Config{})
	ctx := context.Background()
	entry := f.addSale(t)

	_, err := f.engine.Reopen(ctx, entry.ID, amount(3000), manager, "cash miscounted")
	require.ErrorIs(t, err, domain.ErrNotFound)

	res, err := f.engine.RecordSettlement(ctx, entry.ID, amount(2000), manager, "")
	require.NoError(t, err)
	_, err = f.engine.Reopen(ctx, entry.ID, amount(1000), manager, "cash miscounted")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.engine.RecordSettlement(ctx, entry.ID, amount(3850), manager, "")
	require.NoError(t, err)

	_, err = f.engine.Reopen(ctx, entry.ID, amount(3000), manager, "  ")
	require.ErrorIs(t, err, domain.ErrReasonRequired)
	var reasonErr *domain.Error
	require.ErrorAs(t, err, &reasonErr)
	assert.Equal(t, entry.ID, reasonErr.ID)
	_, err = f.engine.Reopen(ctx, entry.ID, amount(3000), receptionist, "cash miscounted")
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.engine.Reopen(ctx, entry.ID, amount(3850), manager, "cash miscounted")
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	reopened, err := f.engine.Reopen(ctx, entry.ID, amount(3000), manager, "cash miscounted")
	require.NoError(t, err)
	assert.Equal(t, res.Settlement.ID, reopened.ID)
	assert.False(t, reopened.IsSettled)
	assert.Nil(t, reopened.SettledAt)
	assert.True(t, reopened.RemainingBalance.Equal(amount(850)))

	records, err := f.ledger.List(ctx, domain.AuditFilter{EntityType: domain.EntitySettlement, EntityID: reopened.ID, Limit: 3})
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, "cash miscounted", records[0].Reason)
}

func TestConcurrentSettlementsKeepOneRecord(t *testing.T) {
	f := newFixture(t, reconcile.Config{})
	ctx := context.Background()
	entry := f.addSale(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			_, err := f.engine.RecordSettlement(ctx, entry.ID, amount(n*500), manager, "")
			errs <- err
		}(int64(i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	settlements, err := f.repos.Settlements.ForSalesEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	s := settlements[0]
	assert.True(t, s.RemainingBalance.Equal(s.ExpectedAmount.Sub(s.SettledAmount)))
}

// schemaWithoutUniqueSettlement relaxes the one-settlement-per-sale index so
// an inconsistent ledger can be built.
func schemaWithoutUniqueSettlement() store.Schema {
	schema := repository.Schema()
	collections := make([]store.CollectionSpec, len(schema.Collections))
	copy(collections, schema.Collections)
	for i, c := range collections {
		if c.Name != repository.CollectionSettlements {
			continue
		}
		indexes := make([]store.IndexSpec, len(c.Indexes))
		copy(indexes, c.Indexes)
		for j := range indexes {
			indexes[j].Unique = false
		}
		collections[i].Indexes = indexes
	}
	schema.Collections = collections
	return schema
}

func TestDuplicateSettlementsAreAnInvariantViolation(t *testing.T) {
	f := newFixtureWithSchema(t, reconcile.Config{}, schemaWithoutUniqueSettlement())
	ctx := context.Background()
	entry := f.addSale(t)

	b := store.NewBatch()
	for _, paid := range []int64{3850, 1000} {
		s := domain.Settlement{
			Date:           entry.Date,
			SalesEntryID:   entry.ID,
			ExpectedAmount: amount(3850),
			SettledAmount:  amount(paid),
			SettledBy:      manager.UserID,
		}
		_, err := f.repos.Settlements.StageAdd(ctx, b, &s)
		require.NoError(t, err)
	}
	_, err := f.store.Commit(ctx, b)
	require.NoError(t, err)
	before, err := f.repos.Settlements.ForSalesEntry(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, before, 2)

	_, err = f.engine.RecordSettlement(ctx, entry.ID, amount(2000), manager, "")
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	_, err = f.engine.Reopen(ctx, entry.ID, amount(2000), manager, "cash miscounted")
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	after, err := f.repos.Settlements.ForSalesEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	records, err := f.ledger.List(ctx, domain.AuditFilter{EntityType: domain.EntitySettlement})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Empty(t, f.notificationsFor(t, receptionist.UserID))
	assert.Zero(t, f.publisher.count())
}
