// Package reserve runs a full reserving pass: it estimates every claim
// category in parallel, aggregates portfolio totals and funding status, and
// commits the run atomically.
package reserve

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/ibnr-engine/internal/config"
	"github.com/sells-group/ibnr-engine/internal/funding"
	"github.com/sells-group/ibnr-engine/internal/model"
	"github.com/sells-group/ibnr-engine/internal/resilience"
)

// Store is the persistence the engine reads from and commits to.
type Store interface {
	ListCategories(ctx context.Context) ([]string, error)
	ScanTransactions(ctx context.Context, category string, asOf model.Period, snapshotAt time.Time, fn func(model.ClaimTransaction) error) error
	ListExpectedLossInputs(ctx context.Context, category string, asOf model.Period) ([]model.ExpectedLossInput, error)
	FundedBalance(ctx context.Context, category string, asOf model.Period) (decimal.Decimal, error)
	CaseReserve(ctx context.Context, category string, asOf model.Period) (decimal.Decimal, error)
	PriorEstimates(ctx context.Context, asOf model.Period) (map[string]decimal.Decimal, error)
	CommitRun(ctx context.Context, run *model.Run) error
	RecordFailedRun(ctx context.Context, run *model.Run) error
}

// RunRequest describes one recalculation.
type RunRequest struct {
	AsOf       model.Period `json:"as_of"`
	SnapshotAt time.Time    `json:"snapshot_at,omitempty"` // zero means now
	Categories []string     `json:"categories,omitempty"`  // empty means every known category
	DryRun     bool         `json:"dry_run,omitempty"`
}

// RunResult is the outcome of Recalculate.
type RunResult struct {
	Run      *model.Run    `json:"run"`
	Attempts int           `json:"attempts"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Engine orchestrates reserving runs.
type Engine struct {
	store    Store
	cfg      *config.Config
	analyzer *funding.Analyzer
	retry    resilience.RetryConfig

	now   func() time.Time
	newID func() string
}

// NewEngine returns an Engine backed by st.
func NewEngine(st Store, cfg *config.Config) *Engine {
	retry := resilience.CommitRetryConfig(cfg.Reserving.CommitAttempts)
	retry.OnRetry = resilience.RetryLogger("reserve", "commit_run")
	return &Engine{
		store:    st,
		cfg:      cfg,
		analyzer: funding.NewAnalyzer(cfg.Funding),
		retry:    retry,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// Recalculate estimates every category for req.AsOf and commits the run.
// Category-level problems exclude that category and are reported on the run;
// store failures and a run with no estimates fail the whole run, leaving the
// previous committed results in place.
func (e *Engine) Recalculate(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.AsOf.IsZero() {
		return nil, eris.Wrap(ErrInvalidRequest, "as-of period is required")
	}
	if g := model.Grain(e.cfg.Reserving.Grain); g != "" && req.AsOf.Grain != g {
		return nil, eris.Wrapf(ErrInvalidRequest, "as-of %s is %s grain, configured grain is %s", req.AsOf, req.AsOf.Grain, g)
	}

	start := e.now()
	snapshot := req.SnapshotAt
	if snapshot.IsZero() {
		snapshot = start
	}
	run := &model.Run{
		ID:         e.newID(),
		AsOf:       req.AsOf,
		SnapshotAt: snapshot.UTC(),
		Status:     model.RunStatusRunning,
		StartedAt:  start.UTC(),
	}
	log := zap.L().With(
		zap.String("component", "reserve"),
		zap.String("run_id", run.ID),
		zap.Stringer("as_of", req.AsOf),
	)
	log.Info("starting reserving run", zap.Time("snapshot_at", run.SnapshotAt))

	categories, err := e.categories(ctx, req.Categories)
	if err != nil {
		return e.fail(ctx, run, err)
	}
	prior, err := e.store.PriorEstimates(ctx, req.AsOf)
	if err != nil {
		return e.fail(ctx, run, eris.Wrap(err, "reserve: load prior estimates"))
	}

	// Each worker owns one slot; the slice is read only after Wait.
	results := make([]categoryResult, len(categories))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, e.cfg.Reserving.Concurrency))
	for i, category := range categories {
		g.Go(func() error {
			r, err := e.estimateCategory(gctx, req.AsOf, run.SnapshotAt, category, prior)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return e.fail(ctx, run, eris.Wrap(err, "reserve: estimate categories"))
	}

	e.assemble(run, results)
	if len(run.Estimates) == 0 {
		return e.fail(ctx, run, &NoEstimatesError{AsOf: req.AsOf, Excluded: run.Excluded})
	}

	fp, err := Fingerprint(run)
	if err != nil {
		return e.fail(ctx, run, err)
	}
	run.Fingerprint = fp
	stampRunID(run)

	result := &RunResult{Run: run}
	if req.DryRun {
		run.Status = model.RunStatusDryRun
		run.FinishedAt = e.now().UTC()
		result.Elapsed = run.FinishedAt.Sub(run.StartedAt)
		log.Info("dry run complete", zap.Int("estimates", len(run.Estimates)))
		return result, nil
	}

	run.Status = model.RunStatusCommitted
	run.FinishedAt = e.now().UTC()
	err = resilience.Do(ctx, e.retry, func(ctx context.Context) error {
		result.Attempts++
		return e.store.CommitRun(ctx, run)
	})
	if err != nil {
		commitErr := &RunCommitError{RunID: run.ID, Attempts: result.Attempts, Err: err}
		res, _ := e.fail(ctx, run, commitErr)
		res.Attempts = result.Attempts
		return res, commitErr
	}

	result.Elapsed = run.FinishedAt.Sub(run.StartedAt)
	log.Info("reserving run committed",
		zap.Int("estimates", len(run.Estimates)),
		zap.Int("excluded", len(run.Excluded)),
		zap.Int("warnings", len(run.Warnings)),
		zap.String("total_ibnr", run.Totals.TotalIBNR.StringFixed(2)),
		zap.String("fingerprint", run.Fingerprint),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

func (e *Engine) categories(ctx context.Context, requested []string) ([]string, error) {
	cats := requested
	if len(cats) == 0 {
		var err error
		cats, err = e.store.ListCategories(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "reserve: list categories")
		}
	}
	cats = slices.Clone(cats)
	slices.Sort(cats)
	return slices.Compact(cats), nil
}

// fail marks run failed, records it for history and returns err. The run's
// computed results are kept in memory for the caller but never persisted.
func (e *Engine) fail(ctx context.Context, run *model.Run, err error) (*RunResult, error) {
	run.Status = model.RunStatusFailed
	run.Error = err.Error()
	run.FinishedAt = e.now().UTC()

	log := zap.L().With(zap.String("component", "reserve"), zap.String("run_id", run.ID))
	log.Error("reserving run failed", zap.Error(err))
	if recErr := e.store.RecordFailedRun(context.WithoutCancel(ctx), run); recErr != nil {
		log.Warn("failed to record failed run", zap.Error(recErr))
	}
	return &RunResult{Run: run, Elapsed: run.FinishedAt.Sub(run.StartedAt)}, err
}

// assemble merges per-category results in category order and derives funding
// and totals. It runs after every worker has finished.
func (e *Engine) assemble(run *model.Run, results []categoryResult) {
	required := make(map[string]decimal.Decimal)
	funded := make(map[string]decimal.Decimal)
	totals := model.Totals{
		TotalIBNR:      decimal.Zero,
		CaseReserve:    decimal.Zero,
		TotalLiability: decimal.Zero,
		TotalFunded:    decimal.Zero,
	}

	for _, r := range results {
		if r.triangle != nil && !r.triangle.IsEmpty() {
			run.Triangles = append(run.Triangles, r.triangle)
		}
		run.Warnings = append(run.Warnings, r.warnings...)
		if r.excluded != nil {
			run.Excluded = append(run.Excluded, *r.excluded)
			continue
		}

		est := *r.estimate
		est.AsOf = run.AsOf
		run.Estimates = append(run.Estimates, est)

		req := est.PointEstimate
		if e.cfg.Funding.IncludeCaseReserve {
			req = req.Add(r.caseReserve)
		}
		required[est.Category] = req
		funded[est.Category] = r.funded

		totals.TotalIBNR = totals.TotalIBNR.Add(est.PointEstimate)
		totals.CaseReserve = totals.CaseReserve.Add(r.caseReserve)
		totals.TotalFunded = totals.TotalFunded.Add(r.funded)
	}

	run.Funding = e.analyzer.Analyze(required, funded)
	for i := range run.Funding {
		run.Funding[i].AsOf = run.AsOf
	}

	totals.TotalLiability = totals.TotalIBNR.Add(totals.CaseReserve)
	if totals.TotalLiability.IsPositive() {
		totals.FundingRatio = decimal.NullDecimal{
			Decimal: totals.TotalFunded.DivRound(totals.TotalLiability, funding.RatioPlaces),
			Valid:   true,
		}
	}
	run.Totals = totals
}

func stampRunID(run *model.Run) {
	for i := range run.Estimates {
		run.Estimates[i].RunID = run.ID
	}
	for i := range run.Funding {
		run.Funding[i].RunID = run.ID
	}
}

type fingerprintDoc struct {
	AsOf      model.Period             `json:"as_of"`
	Estimates []model.ReserveEstimate  `json:"estimates"`
	Funding   []model.FundingStatus    `json:"funding"`
	Excluded  []model.ExcludedCategory `json:"excluded"`
	Totals    model.Totals             `json:"totals"`
}

// Fingerprint hashes the run's results, ignoring its ID and timestamps, so
// two runs over the same inputs produce the same value.
func Fingerprint(run *model.Run) (string, error) {
	doc := fingerprintDoc{
		AsOf:      run.AsOf,
		Estimates: slices.Clone(run.Estimates),
		Funding:   slices.Clone(run.Funding),
		Excluded:  run.Excluded,
		Totals:    run.Totals,
	}
	for i := range doc.Estimates {
		doc.Estimates[i].RunID = ""
	}
	for i := range doc.Funding {
		doc.Funding[i].RunID = ""
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return "", eris.Wrap(err, "reserve: marshal fingerprint")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
