package reserve

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ibnr-engine/internal/model"
	"github.com/sells-group/ibnr-engine/internal/store"
)

func newSQLiteEngine(t *testing.T) (*Engine, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ibnr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	mem := newMemStore()
	seedMedical(mem)
	addTx(mem, "Pharmacy", "2024-01", "2024-01", 40)
	addTx(mem, "Pharmacy", "2024-01", "2024-02", 10)
	addTx(mem, "Pharmacy", "2024-01", "2024-03", 2)
	addTx(mem, "Pharmacy", "2024-02", "2024-02", 45)
	addTx(mem, "Pharmacy", "2024-02", "2024-03", 12)
	addTx(mem, "Pharmacy", "2024-03", "2024-03", 50)
	_, err = st.AppendTransactions(context.Background(), mem.txs)
	require.NoError(t, err)

	e := newTestEngine(st, testConfig())
	clock := time.Date(2024, 4, 5, 6, 0, 0, 0, time.UTC)
	e.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}
	return e, st
}

func TestRecalculate_CategoryRunKeepsOtherCategories(t *testing.T) {
	ctx := context.Background()
	e, st := newSQLiteEngine(t)

	full, err := e.Recalculate(ctx, RunRequest{AsOf: march})
	require.NoError(t, err)
	require.Len(t, full.Run.Estimates, 2)
	pharmacy := estimateFor(t, full.Run, "Pharmacy").PointEstimate

	rerun, err := e.Recalculate(ctx, RunRequest{AsOf: march, Categories: []string{"Medical"}})
	require.NoError(t, err)
	require.Len(t, rerun.Run.Estimates, 1)

	ests, err := st.GetReserveEstimates(ctx, march, "")
	require.NoError(t, err)
	require.Len(t, ests, 2)
	assert.Equal(t, "Medical", ests[0].Category)
	assert.Equal(t, rerun.Run.ID, ests[0].RunID)
	assert.Equal(t, "Pharmacy", ests[1].Category)
	assert.Equal(t, full.Run.ID, ests[1].RunID)

	funding, err := st.GetFundingStatus(ctx, model.Period{}, "Pharmacy")
	require.NoError(t, err)
	require.Len(t, funding, 1)
	assert.True(t, funding[0].RequiredAmount.Equal(pharmacy))

	april, err := e.Recalculate(ctx, RunRequest{AsOf: march.Add(1)})
	require.NoError(t, err)
	for _, cat := range []string{"Medical", "Pharmacy"} {
		est := estimateFor(t, april.Run, cat)
		assert.True(t, est.PriorPeriodEstimate.Valid, "%s should carry a prior", cat)
	}
	prior := estimateFor(t, april.Run, "Pharmacy").PriorPeriodEstimate.Decimal
	assert.True(t, prior.Equal(pharmacy), "got %s want %s", prior, pharmacy)
	assert.True(t, estimateFor(t, april.Run, "Medical").PriorPeriodEstimate.Decimal.Equal(decimal.RequireFromString("116")))
}
