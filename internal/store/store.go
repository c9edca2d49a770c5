// Package store persists the claim ledger, reserving assumptions, trust
// balances and committed reserving runs.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/ibnr-engine/internal/model"
)

// ErrNoCommittedRun is returned by result reads before any run was committed
// for the requested evaluation period.
var ErrNoCommittedRun = eris.New("store: no committed run")

// ErrNotFound is returned when a keyed lookup matches nothing.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	AsOf         model.Period    `json:"as_of,omitempty"`
	StartedAfter time.Time       `json:"started_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the reserving engine.
type Store interface {
	// Claim ledger. Transactions are immutable; appending an existing ID is a no-op.
	AppendTransactions(ctx context.Context, txs []model.ClaimTransaction) (int64, error)
	ScanTransactions(ctx context.Context, category string, asOf model.Period, snapshotAt time.Time, fn func(model.ClaimTransaction) error) error
	ListTransactions(ctx context.Context, category string, asOf model.Period) ([]model.ClaimTransaction, error)
	ListCategories(ctx context.Context) ([]string, error)

	// Pricing assumptions
	UpsertExpectedLossInput(ctx context.Context, in model.ExpectedLossInput) error
	ListExpectedLossInputs(ctx context.Context, category string, asOf model.Period) ([]model.ExpectedLossInput, error)
	GetExpectedLossInput(ctx context.Context, category string, period model.Period) (*model.ExpectedLossInput, error)

	// Balances. Reads return the latest value at or before asOf, zero if none.
	SetFundedBalance(ctx context.Context, category string, period model.Period, amount decimal.Decimal) error
	FundedBalance(ctx context.Context, category string, asOf model.Period) (decimal.Decimal, error)
	SetCaseReserve(ctx context.Context, category string, period model.Period, amount decimal.Decimal) error
	CaseReserve(ctx context.Context, category string, asOf model.Period) (decimal.Decimal, error)

	// Runs
	PriorEstimates(ctx context.Context, asOf model.Period) (map[string]decimal.Decimal, error)
	CommitRun(ctx context.Context, run *model.Run) error
	RecordFailedRun(ctx context.Context, run *model.Run) error
	GetReserveEstimates(ctx context.Context, asOf model.Period, category string) ([]model.ReserveEstimate, error)
	GetFundingStatus(ctx context.Context, asOf model.Period, category string) ([]model.FundingStatus, error)
	GetTriangle(ctx context.Context, category string) (*model.LossTriangle, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// runSummary is the JSON column holding run-level detail.
type runSummary struct {
	Totals   model.Totals             `json:"totals"`
	Warnings []model.Warning          `json:"warnings,omitempty"`
	Excluded []model.ExcludedCategory `json:"excluded,omitempty"`
}

func summaryOf(run *model.Run) runSummary {
	return runSummary{Totals: run.Totals, Warnings: run.Warnings, Excluded: run.Excluded}
}

func (s runSummary) apply(run *model.Run) {
	run.Totals = s.Totals
	run.Warnings = s.Warnings
	run.Excluded = s.Excluded
}

func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	return d, eris.Wrapf(err, "store: parse amount %q", s)
}

func parsePeriod(grain string, ordinal int) model.Period {
	return model.Period{Grain: model.Grain(grain), Ordinal: ordinal}
}
