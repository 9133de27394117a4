package audit_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldledger/backend/internal/audit"
	"fieldledger/backend/internal/domain"
	"fieldledger/backend/internal/repository"
	"fieldledger/backend/internal/store"
	"fieldledger/backend/internal/store/memory"
)

var manager = domain.Actor{UserID: 2, Role: domain.RoleManager, Name: "Ada"}

// clock hands out the times it is set to; tests move it between writes.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newLedger(t *testing.T) (*audit.Ledger, *store.Store, *clock) {
	t.Helper()
	st, err := store.Open(context.Background(), memory.New(), repository.Schema())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	c := &clock{now: time.Date(2024, time.January, 2, 9, 0, 0, 0, time.UTC)}
	repos := repository.New(st, repository.Options{Now: c.Now})
	return audit.New(repos.Audit, zerolog.Nop()), st, c
}

func TestStageCommitsWithBatch(t *testing.T) {
	ledger, st, _ := newLedger(t)
	ctx := context.Background()

	b := store.NewBatch()
	old, next := "10", "12"
	err := ledger.StageChanges(ctx, b, domain.EntitySalesEntry, 5, []domain.FieldChange{
		{Field: "bags_at_price1", Old: &old, New: &next},
		{Field: "notes", New: &next},
	}, manager, "recount")
	require.NoError(t, err)

	records, err := ledger.List(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, records, "staged records are invisible before commit")

	_, err = st.Commit(ctx, b)
	require.NoError(t, err)
	records, err = ledger.List(ctx, domain.AuditFilter{EntityID: 5})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.NotEmpty(t, records[0].OperationID)
	assert.Equal(t, records[0].OperationID, records[1].OperationID)
	assert.Equal(t, "recount", records[1].Reason)
}

func TestStageRequiresActor(t *testing.T) {
	ledger, _, _ := newLedger(t)
	_, err := ledger.Stage(context.Background(), store.NewBatch(), audit.Entry{
		EntityType: domain.EntitySalesEntry,
		EntityID:   1,
		Action:     domain.ActionCreate,
	})
	require.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestListOrderingAndFilters(t *testing.T) {
	ledger, _, c := newLedger(t)
	ctx := context.Background()

	day1 := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, time.January, 2, 12, 0, 0, 0, time.UTC)

	c.Set(day1)
	first, err := ledger.LogSubmit(ctx, domain.EntitySalesEntry, 1, manager)
	require.NoError(t, err)
	_, err = ledger.LogSubmit(ctx, domain.EntityStockEntry, 1, manager)
	require.NoError(t, err)

	c.Set(day2)
	sameTimeA, err := ledger.LogCreate(ctx, domain.EntitySalesEntry, 2, manager)
	require.NoError(t, err)
	sameTimeB, err := ledger.LogSettle(ctx, 3, manager, "paid")
	require.NoError(t, err)
	_, err = ledger.LogDelete(ctx, domain.EntityUserAccount, 9, manager, "left")
	require.NoError(t, err)

	all, err := ledger.List(ctx, domain.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, sameTimeA.ID, all[0].ID, "latest first, ties by append order")
	assert.Equal(t, sameTimeB.ID, all[1].ID)
	assert.Equal(t, first.ID, all[4].ID)

	sales, err := ledger.List(ctx, domain.AuditFilter{EntityType: domain.EntitySalesEntry})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	for _, rec := range sales {
		assert.Equal(t, domain.EntitySalesEntry, rec.EntityType)
	}

	byID, err := ledger.List(ctx, domain.AuditFilter{EntityID: 1})
	require.NoError(t, err)
	assert.Len(t, byID, 2)

	exact, err := ledger.List(ctx, domain.AuditFilter{EntityType: domain.EntityStockEntry, EntityID: 1})
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.Equal(t, domain.EntityStockEntry, exact[0].EntityType)

	oneDay := domain.DateRange{From: domain.NewDate(2024, time.January, 1), To: domain.NewDate(2024, time.January, 1)}
	ranged, err := ledger.List(ctx, domain.AuditFilter{Range: oneDay})
	require.NoError(t, err)
	assert.Len(t, ranged, 2)

	typedRange, err := ledger.List(ctx, domain.AuditFilter{EntityType: domain.EntitySalesEntry, Range: oneDay})
	require.NoError(t, err)
	require.Len(t, typedRange, 1)
	assert.Equal(t, first.ID, typedRange[0].ID)

	limited, err := ledger.List(ctx, domain.AuditFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
