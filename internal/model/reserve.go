package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// ClaimTransaction is an immutable paid-loss fact from the claims ledger.
// Amount is signed so reversals can be recorded.
type ClaimTransaction struct {
	ID                string          `json:"id"`
	Category          string          `json:"category"`
	OriginPeriod      Period          `json:"origin_period"`
	TransactionPeriod Period          `json:"transaction_period"`
	Amount            decimal.Decimal `json:"amount"`
	RecordedAt        time.Time       `json:"recorded_at"`
}

// ExpectedLossInput is the pricing assumption for one category and origin period.
type ExpectedLossInput struct {
	Category  string          `json:"category"`
	Period    Period          `json:"period"`
	Exposure  decimal.Decimal `json:"exposure"`   // earned premium or exposure base
	LossRatio decimal.Decimal `json:"loss_ratio"` // expected loss ratio, e.g. 0.82
}

// ExpectedUltimate returns exposure x loss ratio.
func (in ExpectedLossInput) ExpectedUltimate() decimal.Decimal {
	return in.Exposure.Mul(in.LossRatio)
}

// ReserveMethod identifies the projection method behind an estimate.
type ReserveMethod string

const (
	MethodChainLadder         ReserveMethod = "chain_ladder"
	MethodBornhuetterFerguson ReserveMethod = "bornhuetter_ferguson"
	MethodExpectedLoss        ReserveMethod = "expected_loss"
)

// Label returns the display name used in reports.
func (m ReserveMethod) Label() string {
	switch m {
	case MethodChainLadder:
		return "Chain-Ladder"
	case MethodBornhuetterFerguson:
		return "Bornhuetter-Ferguson"
	case MethodExpectedLoss:
		return "Expected Loss"
	default:
		return string(m)
	}
}

// IsAutoMethod reports whether a configured method asks for automatic
// selection ("" or "auto").
func IsAutoMethod(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return true
	}
	return false
}

// ParseReserveMethod accepts the canonical names plus short aliases (cl, bf, el).
func ParseReserveMethod(s string) (ReserveMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chain_ladder", "chain-ladder", "cl":
		return MethodChainLadder, nil
	case "bornhuetter_ferguson", "bornhuetter-ferguson", "bf":
		return MethodBornhuetterFerguson, nil
	case "expected_loss", "expected-loss", "el":
		return MethodExpectedLoss, nil
	default:
		return "", eris.Errorf("model: unknown reserve method %q", s)
	}
}

// DevelopmentFactor is the link ratio from Lag to Lag+1 and the cumulative
// factor from Lag to ultimate. The entry at the last observed lag carries the
// tail factor and has Tail set.
type DevelopmentFactor struct {
	Category        string          `json:"category"`
	Lag             int             `json:"lag"`
	AgeToAge        decimal.Decimal `json:"age_to_age"`
	CDF             decimal.Decimal `json:"cdf"`
	PercentComplete decimal.Decimal `json:"percent_complete"`
	Pairs           int             `json:"pairs"`
	CV              float64         `json:"cv"`
	Undefined       bool            `json:"undefined,omitempty"`
	BelowOne        bool            `json:"below_one,omitempty"`
	Tail            bool            `json:"tail,omitempty"`
}

// OriginProjection is the projection for one origin period.
type OriginProjection struct {
	Origin           Period              `json:"origin"`
	Lag              int                 `json:"lag"`
	Method           ReserveMethod       `json:"method"`
	PaidToDate       decimal.Decimal     `json:"paid_to_date"`
	CDF              decimal.Decimal     `json:"cdf"`
	ExpectedUltimate decimal.NullDecimal `json:"expected_ultimate"`
	Ultimate         decimal.Decimal     `json:"ultimate"`
	Reserve          decimal.Decimal     `json:"reserve"`
}

// ReserveEstimate is the committed IBNR figure for one category in one run.
type ReserveEstimate struct {
	RunID               string              `json:"run_id"`
	AsOf                Period              `json:"as_of"`
	Category            string              `json:"category"`
	Method              ReserveMethod       `json:"method"`
	PointEstimate       decimal.Decimal     `json:"point_estimate"`
	PriorPeriodEstimate decimal.NullDecimal `json:"prior_period_estimate"`
	PercentChange       decimal.NullDecimal `json:"percent_change"` // (current - prior) / prior
	ConfidenceScore     int                 `json:"confidence_score"`
	AlternativeMethod   ReserveMethod       `json:"alternative_method,omitempty"`
	AlternativeEstimate decimal.NullDecimal `json:"alternative_estimate"`
	PaidToDate          decimal.Decimal     `json:"paid_to_date"`
	Ultimate            decimal.Decimal     `json:"ultimate"`
	Origins             []OriginProjection  `json:"origins,omitempty"`
	Factors             []DevelopmentFactor `json:"factors,omitempty"`
	Warnings            []Warning           `json:"warnings,omitempty"`
}

// FundingLevel classifies funded vs required reserves.
type FundingLevel string

const (
	FundingAdequate FundingLevel = "adequate"
	FundingWarning  FundingLevel = "warning"
	FundingCritical FundingLevel = "critical"
)

// FundingStatus compares the trust balance for a category with its reserve.
type FundingStatus struct {
	RunID          string              `json:"run_id"`
	AsOf           Period              `json:"as_of"`
	Category       string              `json:"category"`
	FundedAmount   decimal.Decimal     `json:"funded_amount"`
	RequiredAmount decimal.Decimal     `json:"required_amount"`
	Variance       decimal.Decimal     `json:"variance"`
	FundingRatio   decimal.NullDecimal `json:"funding_ratio"`
	Status         FundingLevel        `json:"status"`
}
