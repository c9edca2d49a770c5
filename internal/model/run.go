package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RunStatus is the lifecycle state of a reserving run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCommitted RunStatus = "committed"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusDryRun marks a run that was computed but never persisted.
	RunStatusDryRun    RunStatus = "dry_run"
)

// WarningKind classifies a non-fatal finding recorded against a run.
type WarningKind string

const (
	WarningCumulativeDecrease WarningKind = "cumulative_decrease"
	WarningNegativeLag        WarningKind = "negative_lag"
	WarningUndefinedFactor    WarningKind = "undefined_factor"
	WarningFactorBelowOne     WarningKind = "factor_below_one"
	WarningThinLag            WarningKind = "thin_lag"
	WarningMethodFallback     WarningKind = "method_fallback"
	WarningInsufficientData   WarningKind = "insufficient_data"
	WarningConfiguration      WarningKind = "configuration"
)

// IsAnomaly reports whether the warning is a data anomaly that caps confidence.
func (k WarningKind) IsAnomaly() bool {
	switch k {
	case WarningCumulativeDecrease, WarningNegativeLag, WarningFactorBelowOne:
		return true
	default:
		return false
	}
}

// Warning is attached to a category so a reviewer can see lower-confidence figures.
type Warning struct {
	Category string      `json:"category"`
	Kind     WarningKind `json:"kind"`
	Origin   *Period     `json:"origin,omitempty"`
	Lag      *int        `json:"lag,omitempty"`
	Message  string      `json:"message"`
}

// ExcludedCategory is a category left out of the totals.
type ExcludedCategory struct {
	Category string      `json:"category"`
	Reason   WarningKind `json:"reason"`
	Message  string      `json:"message"`
}

// Totals are the portfolio-level figures of a run.
type Totals struct {
	TotalIBNR      decimal.Decimal     `json:"total_ibnr"`
	CaseReserve    decimal.Decimal     `json:"case_reserve"`
	TotalLiability decimal.Decimal     `json:"total_liability"`
	TotalFunded    decimal.Decimal     `json:"total_funded"`
	FundingRatio   decimal.NullDecimal `json:"funding_ratio"`
}

// Run is one reserving run. Committed runs are immutable.
type Run struct {
	ID          string             `json:"id"`
	AsOf        Period             `json:"as_of"`
	SnapshotAt  time.Time          `json:"snapshot_at"`
	Status      RunStatus          `json:"status"`
	Estimates   []ReserveEstimate  `json:"estimates,omitempty"`
	Funding     []FundingStatus    `json:"funding,omitempty"`
	Triangles   []*LossTriangle    `json:"triangles,omitempty"`
	Excluded    []ExcludedCategory `json:"excluded,omitempty"`
	Warnings    []Warning          `json:"warnings,omitempty"`
	Totals      Totals             `json:"totals"`
	Fingerprint string             `json:"fingerprint,omitempty"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
}
