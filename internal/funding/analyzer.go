// Package funding compares required reserves with funded trust balances.
package funding

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/sells-group/ibnr-engine/internal/config"
	"github.com/sells-group/ibnr-engine/internal/model"
)

// RatioPlaces is the rounding applied to funded/required ratios.
const RatioPlaces = 4

// Analyzer classifies funding adequacy against configured thresholds.
type Analyzer struct {
	critical decimal.Decimal
	warning  decimal.Decimal
}

// NewAnalyzer returns an Analyzer for the given thresholds.
func NewAnalyzer(cfg config.FundingConfig) *Analyzer {
	return &Analyzer{
		critical: decimal.NewFromFloat(cfg.CriticalRatio),
		warning:  decimal.NewFromFloat(cfg.WarningRatio),
	}
}

// Classify returns the status for a funded/required pair. A ratio exactly at
// a threshold falls into the better band. Nothing required is adequate.
func (a *Analyzer) Classify(funded, required decimal.Decimal) (model.FundingLevel, decimal.NullDecimal) {
	if !required.IsPositive() {
		return model.FundingAdequate, decimal.NullDecimal{}
	}
	// Compare funded against threshold*required so boundaries are exact.
	ratio := decimal.NullDecimal{Decimal: funded.DivRound(required, RatioPlaces), Valid: true}
	switch {
	case funded.LessThan(required.Mul(a.critical)):
		return model.FundingCritical, ratio
	case funded.LessThan(required.Mul(a.warning)):
		return model.FundingWarning, ratio
	default:
		return model.FundingAdequate, ratio
	}
}

// Analyze builds one FundingStatus per entry in required, sorted by category.
// Categories missing from funded are treated as unfunded.
func (a *Analyzer) Analyze(required, funded map[string]decimal.Decimal) []model.FundingStatus {
	cats := make([]string, 0, len(required))
	for c := range required {
		cats = append(cats, c)
	}
	slices.Sort(cats)

	out := make([]model.FundingStatus, 0, len(cats))
	for _, c := range cats {
		req := required[c]
		fund := funded[c]
		status, ratio := a.Classify(fund, req)
		out = append(out, model.FundingStatus{
			Category:       c,
			FundedAmount:   fund,
			RequiredAmount: req,
			Variance:       fund.Sub(req),
			FundingRatio:   ratio,
			Status:         status,
		})
	}
	return out
}
