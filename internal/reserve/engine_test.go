package reserve

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ibnr-engine/internal/config"
	"github.com/sells-group/ibnr-engine/internal/model"
	"github.com/sells-group/ibnr-engine/internal/resilience"
	"github.com/sells-group/ibnr-engine/internal/scorer"
)

// memStore is an in-memory Store.
type memStore struct {
	mu        sync.Mutex
	txs       []model.ClaimTransaction
	inputs    []model.ExpectedLossInput
	funded    map[string]decimal.Decimal
	cases     map[string]decimal.Decimal
	prior     map[string]decimal.Decimal
	committed []*model.Run
	failed    []*model.Run
	commitErr []error // returned by successive CommitRun calls
	scanErr   error
}

func newMemStore() *memStore {
	return &memStore{
		funded: map[string]decimal.Decimal{},
		cases:  map[string]decimal.Decimal{},
		prior:  map[string]decimal.Decimal{},
	}
}

func (m *memStore) ListCategories(context.Context) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, tx := range m.txs {
		if !seen[tx.Category] {
			seen[tx.Category] = true
			out = append(out, tx.Category)
		}
	}
	for _, in := range m.inputs {
		if !seen[in.Category] {
			seen[in.Category] = true
			out = append(out, in.Category)
		}
	}
	return out, nil
}

func (m *memStore) ScanTransactions(_ context.Context, category string, asOf model.Period, snapshotAt time.Time, fn func(model.ClaimTransaction) error) error {
	if m.scanErr != nil {
		return m.scanErr
	}
	for _, tx := range m.txs {
		if tx.Category != category || tx.TransactionPeriod.After(asOf) || tx.RecordedAt.After(snapshotAt) {
			continue
		}
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) ListExpectedLossInputs(_ context.Context, category string, asOf model.Period) ([]model.ExpectedLossInput, error) {
	var out []model.ExpectedLossInput
	for _, in := range m.inputs {
		if in.Category == category && !in.Period.After(asOf) {
			out = append(out, in)
		}
	}
	return out, nil
}

func (m *memStore) FundedBalance(_ context.Context, category string, _ model.Period) (decimal.Decimal, error) {
	return m.funded[category], nil
}

func (m *memStore) CaseReserve(_ context.Context, category string, _ model.Period) (decimal.Decimal, error) {
	return m.cases[category], nil
}

func (m *memStore) PriorEstimates(context.Context, model.Period) (map[string]decimal.Decimal, error) {
	return m.prior, nil
}

func (m *memStore) CommitRun(_ context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.commitErr) > 0 {
		err := m.commitErr[0]
		m.commitErr = m.commitErr[1:]
		if err != nil {
			return err
		}
	}
	m.committed = append(m.committed, run)
	return nil
}

func (m *memStore) RecordFailedRun(_ context.Context, run *model.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, run)
	return nil
}

var recorded = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

func addTx(m *memStore, category, origin, paid string, amount int64) {
	m.txs = append(m.txs, model.ClaimTransaction{
		ID:                fmt.Sprintf("%s-%d", category, len(m.txs)+1),
		Category:          category,
		OriginPeriod:      model.MustPeriod(origin),
		TransactionPeriod: model.MustPeriod(paid),
		Amount:            decimal.NewFromInt(amount),
		RecordedAt:        recorded,
	})
}

// seedMedical loads the three-month example: cumulative 100/150/180,
// 120/170 and 110.
func seedMedical(m *memStore) {
	addTx(m, "Medical", "2024-01", "2024-01", 100)
	addTx(m, "Medical", "2024-01", "2024-02", 50)
	addTx(m, "Medical", "2024-01", "2024-03", 30)
	addTx(m, "Medical", "2024-02", "2024-02", 120)
	addTx(m, "Medical", "2024-02", "2024-03", 50)
	addTx(m, "Medical", "2024-03", "2024-03", 110)
}

func testConfig() *config.Config {
	return &config.Config{
		Reserving: config.ReservingConfig{
			Grain:            "month",
			TailFactor:       1.0,
			MinOriginPeriods: 3,
			BFMaxLag:         2,
			CVLimit:          0.25,
			Concurrency:      4,
			CommitAttempts:   3,
		},
		Confidence: scorer.DefaultConfidenceConfig(),
		Funding:    config.FundingConfig{CriticalRatio: 0.90, WarningRatio: 1.00},
	}
}

func newTestEngine(st Store, cfg *config.Config) *Engine {
	e := NewEngine(st, cfg)
	ids := 0
	e.newID = func() string {
		ids++
		return fmt.Sprintf("run-%d", ids)
	}
	e.now = func() time.Time { return time.Date(2024, 4, 5, 6, 0, 0, 0, time.UTC) }
	e.retry = resilience.RetryConfig{MaxAttempts: cfg.Reserving.CommitAttempts, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	return e
}

var march = model.MustPeriod("2024-03")

func estimateFor(t *testing.T, run *model.Run, category string) model.ReserveEstimate {
	t.Helper()
	i := slices.IndexFunc(run.Estimates, func(e model.ReserveEstimate) bool { return e.Category == category })
	require.GreaterOrEqual(t, i, 0, "no estimate for %s", category)
	return run.Estimates[i]
}

func TestRecalculate_ChainLadderExample(t *testing.T) {
	st := newMemStore()
	seedMedical(st)
	st.funded["Medical"] = decimal.NewFromInt(110)

	res, err := newTestEngine(st, testConfig()).Recalculate(context.Background(), RunRequest{AsOf: march})
	require.NoError(t, err)
	require.Len(t, st.committed, 1)

	run := res.Run
	assert.Equal(t, model.RunStatusCommitted, run.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.NotEmpty(t, run.Fingerprint)

	est := estimateFor(t, run, "Medical")
	assert.Equal(t, "run-1", est.RunID)
	assert.Equal(t, model.MethodChainLadder, est.Method)
	assert.Equal(t, "116.00", est.PointEstimate.StringFixed(2))
	assert.False(t, est.PriorPeriodEstimate.Valid)
	assert.False(t, est.PercentChange.Valid)
	assert.False(t, est.AlternativeEstimate.Valid)
	assert.Len(t, est.Origins, 3)
	assert.Len(t, est.Factors, 3)

	require.Len(t, run.Funding, 1)
	assert.Equal(t, model.FundingWarning, run.Funding[0].Status)
	assert.Equal(t, "-6", run.Funding[0].Variance.String())

	assert.Equal(t, "116", run.Totals.TotalIBNR.String())
	assert.Equal(t, "116", run.Totals.TotalLiability.String())
	assert.Equal(t, "0.9483", run.Totals.FundingRatio.Decimal.String())
	require.Len(t, run.Triangles, 1)
}

func TestRecalculate_BlendsImmatureOriginsWithBF(t *testing.T) {
	st := newMemStore()
	seedMedical(st)
	for _, p := range []string{"2024-01", "2024-02", "2024-03"} {
		st.inputs = append(st.inputs, model.ExpectedLossInput{
			Category: "Medical", Period: model.MustPeriod(p),
			Exposure: decimal.NewFromInt(250), LossRatio: decimal.RequireFromString("0.8"),
		})
	}

	res, err := newTestEngine(st, testConfig()).Recalculate(context.Background(), RunRequest{AsOf: march})
	require.NoError(t, err)

	est := estimateFor(t, res.Run, "Medical")
	assert.Equal(t, model.MethodChainLadder, est.Method)
	for _, o := range est.Origins {
		if o.Lag < 2 {
			assert.Equal(t, model.MethodBornhuetterFerguson, o.Method, "origin %s", o.Origin)
		} else {
			assert.Equal(t, model.MethodChainLadder, o.Method, "origin %s", o.Origin)
		}
	}
	assert.Equal(t, model.MethodBornhuetterFerguson, est.AlternativeMethod)
	assert.True(t, est.AlternativeEstimate.Valid)
}

func TestRecalculate_Idempotent(t *testing.T) {
	st := newMemStore()
	seedMedical(st)
	addTx(st, "Pharmacy", "2024-02", "2024-02", 40)
	addTx(st, "Pharmacy", "2024-02", "2024-03", 20)
	addTx(st, "Pharmacy", "2024-03", "2024-03", 45)
	st.inputs = append(st.inputs, model.ExpectedLossInput{
		Category: "Pharmacy", Period: march, Exposure: decimal.NewFromInt(100), LossRatio: decimal.RequireFromString("0.75"),
	})
	st.prior["Medical"] = decimal.NewFromInt(100)

	e := newTestEngine(st, testConfig())
	snap := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	a, err := e.Recalculate(context.Background(), RunRequest{AsOf: march, SnapshotAt: snap})
	require.NoError(t, err)

	// Rows recorded after the snapshot do not change a rerun at that snapshot.
	st.txs = append(st.txs, model.ClaimTransaction{
		ID: "late", Category: "Medical", OriginPeriod: march, TransactionPeriod: march,
		Amount: decimal.NewFromInt(999), RecordedAt: snap.Add(time.Hour),
	})
	b, err := e.Recalculate(context.Background(), RunRequest{AsOf: march, SnapshotAt: snap})
	require.NoError(t, err)

	assert.Equal(t, a.Run.Fingerprint, b.Run.Fingerprint)
	assert.NotEqual(t, a.Run.ID, b.Run.ID)

	fa, err := Fingerprint(a.Run)
	require.NoError(t, err)
	assert.Equal(t, a.Run.Fingerprint, fa)

	med := estimateFor(t, a.Run, "Medical")
	assert.Equal(t, "100", med.PriorPeriodEstimate.Decimal.String())
	assert.Equal(t, "0.16", med.PercentChange.Decimal.String())
}

func TestRecalculate_SingleOriginFallsBackToExpectedLoss(t *testing.T) {
	st := newMemStore()
	seedMedical(st)
	addTx(st, "Vision", "2024-03", "2024-03", 60)
	st.inputs = append(st.inputs, model.ExpectedLossInput{
		Category: "Vision", Period: march, Exposure: decimal.NewFromInt(100), LossRatio: decimal.RequireFromString("0.9"),
	})

	res, err := newTestEngine(st, testConfig()).Recalculate(context.Background(), RunRequest{AsOf: march})
	require.NoError(t, err)

	est := estimateFor(t, res.Run, "Vision")
	assert.Equal(t, model.MethodExpectedLoss, est.Method)
	assert.Equal(t, "30.00", est.PointEstimate.StringFixed(2))
	assert.Equal(t, 50, est.ConfidenceScore)
	assert.True(t, slices.ContainsFunc(est.Warnings, func(w model.Warning) bool { return w.Kind == model.WarningMethodFallback }))
}

func TestRecalculate_InsufficientCategoryExcluded(t *testing.T) {
	st := newMemStore()
	seedMedical(st)
	addTx(st, "Dental", "2024-03", "2024-03", 25)

	res, err := newTestEngine(st, testConfig()).Recalculate(context.Background(), RunRequest{AsOf: march})
	require.NoError(t, err)

	require.Len(t, res.Run.Estimates, 1)
	require.Len(t, res.Run.Excluded, 1)
	assert.Equal(t, "Dental", res.Run.Excluded[0].Category)
	assert.Equal(t, model.WarningInsufficientData, res.Run.Excluded[0].Reason)
	assert.Equal(t, "116", res.Run.Totals.TotalIBNR.String())
}

func TestRecalculate_AllInsufficientFailsRun(t *testing.T) {
	st := newMemStore()
	addTx(st, "Dental", "2024-03", "2024-03", 25)
	st.prior["Dental"] = decimal.NewFromInt(10)

	res, err := newTestEngine(st, testConfig()).Recalculate(context.Background(), RunRequest{AsOf: march})
	var noEst *NoEstimatesError
	require.True(t, errors.As(err, &noEst))
	assert.Contains(t, err.Error(), "Dental")

	assert.Equal(t, model.RunStatusFailed, res.Run.Status)
	assert.Empty(t, st.committed)
	require.Len(t, st.failed, 1)
}

func TestRecalculate_CommitRetriesTransientErrors(t *testing.T) {
	st := newMemStore()
	seedMedical(st)
	st.commitErr = []error{errors.New("database is locked"), nil}

	res, err := newTestEngine(st, testConfig()).Recalculate(context.Background(), RunRequest{AsOf: march})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, st.committed, 1)
}

func TestRecalculate_CommitFailureDiscardsRun(t *testing.T) {
	st := newMemStore()
	seedMedical(st)
	st.commitErr = []error{errors.New("disk full")}

	res, err := newTestEngine(st, testConfig()).Recalculate(context.Background(), RunRequest{AsOf: march})
	var commitErr *RunCommitError
	require.True(t, errors.As(err, &commitErr))
	assert.Equal(t, 1, commitErr.Attempts)
	assert.Equal(t, "run-1", commitErr.RunID)

	assert.Empty(t, st.committed)
	require.Len(t, st.failed, 1)
	assert.Equal(t, model.RunStatusFailed, res.Run.Status)
}

func TestRecalculate_StoreErrorFailsRun(t *testing.T) {
	st := newMemStore()
	seedMedical(st)
	st.scanErr = errors.New("connection refused")

	_, err := newTestEngine(st, testConfig()).Recalculate(context.Background(), RunRequest{AsOf: march})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan transactions for Medical")
	assert.Empty(t, st.committed)
}

func TestRecalculate_DryRunDoesNotCommit(t *testing.T) {
	st := newMemStore()
	seedMedical(st)

	res, err := newTestEngine(st, testConfig()).Recalculate(context.Background(), RunRequest{AsOf: march, DryRun: true})
	require.NoError(t, err)
	assert.Empty(t, st.committed)
	assert.Empty(t, st.failed)
	assert.Len(t, res.Run.Estimates, 1)
	assert.Equal(t, model.RunStatusDryRun, res.Run.Status)
	assert.False(t, res.Run.FinishedAt.IsZero())
}

func TestRecalculate_ForcedMethodWithoutInputsExcludes(t *testing.T) {
	st := newMemStore()
	seedMedical(st)
	addTx(st, "Pharmacy", "2024-02", "2024-02", 40)
	addTx(st, "Pharmacy", "2024-03", "2024-03", 45)

	cfg := testConfig()
	cfg.Reserving.Categories = map[string]config.CategoryConfig{"pharmacy": {Method: "bf"}}

	res, err := newTestEngine(st, cfg).Recalculate(context.Background(), RunRequest{AsOf: march})
	require.NoError(t, err)
	require.Len(t, res.Run.Excluded, 1)
	assert.Equal(t, model.WarningConfiguration, res.Run.Excluded[0].Reason)
}

func TestRecalculate_AutoMethodOverrideSelects(t *testing.T) {
	st := newMemStore()
	seedMedical(st)

	cfg := testConfig()
	cfg.Store = config.StoreConfig{Driver: "sqlite", DatabaseURL: "ibnr.db"}
	cfg.Reserving.Categories = map[string]config.CategoryConfig{"medical": {Method: "auto", TailFactor: 1.0}}
	require.NoError(t, cfg.Validate("recalculate"))

	res, err := newTestEngine(st, cfg).Recalculate(context.Background(), RunRequest{AsOf: march})
	require.NoError(t, err)
	assert.Empty(t, res.Run.Excluded)
	assert.Equal(t, model.MethodChainLadder, estimateFor(t, res.Run, "Medical").Method)
}

func TestRecalculate_HyphenatedMethodOverride(t *testing.T) {
	st := newMemStore()
	seedMedical(st)

	cfg := testConfig()
	cfg.Store = config.StoreConfig{Driver: "sqlite", DatabaseURL: "ibnr.db"}
	cfg.Reserving.Categories = map[string]config.CategoryConfig{"medical": {Method: "chain-ladder"}}
	require.NoError(t, cfg.Validate("recalculate"))

	res, err := newTestEngine(st, cfg).Recalculate(context.Background(), RunRequest{AsOf: march})
	require.NoError(t, err)
	assert.Empty(t, res.Run.Excluded)
	assert.Equal(t, model.MethodChainLadder, estimateFor(t, res.Run, "Medical").Method)
}

func TestRecalculate_GrainMismatch(t *testing.T) {
	_, err := newTestEngine(newMemStore(), testConfig()).Recalculate(context.Background(), RunRequest{AsOf: model.MustPeriod("2024-Q1")})
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = newTestEngine(newMemStore(), testConfig()).Recalculate(context.Background(), RunRequest{})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRecalculate_IncludeCaseReserve(t *testing.T) {
	st := newMemStore()
	seedMedical(st)
	st.funded["Medical"] = decimal.NewFromInt(140)
	st.cases["Medical"] = decimal.NewFromInt(24)

	cfg := testConfig()
	cfg.Funding.IncludeCaseReserve = true
	res, err := newTestEngine(st, cfg).Recalculate(context.Background(), RunRequest{AsOf: march})
	require.NoError(t, err)

	require.Len(t, res.Run.Funding, 1)
	assert.Equal(t, "140", res.Run.Funding[0].RequiredAmount.String())
	assert.Equal(t, model.FundingAdequate, res.Run.Funding[0].Status)
	assert.Equal(t, "140", res.Run.Totals.TotalLiability.String())
}
