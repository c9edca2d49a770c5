package funding

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ibnr-engine/internal/config"
	"github.com/sells-group/ibnr-engine/internal/model"
)

func newTestAnalyzer() *Analyzer {
	return NewAnalyzer(config.FundingConfig{CriticalRatio: 0.90, WarningRatio: 1.00})
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestClassify_Boundaries(t *testing.T) {
	a := newTestAnalyzer()

	tests := []struct {
		funded, required string
		want             model.FundingLevel
	}{
		{"89.99", "100", model.FundingCritical},
		{"90", "100", model.FundingWarning},
		{"99.99", "100", model.FundingWarning},
		{"100", "100", model.FundingAdequate},
		{"150", "100", model.FundingAdequate},
		{"0", "100", model.FundingCritical},
		{"900000", "1000000", model.FundingWarning},
	}
	for _, tt := range tests {
		got, ratio := a.Classify(dec(tt.funded), dec(tt.required))
		assert.Equal(t, tt.want, got, "funded %s required %s", tt.funded, tt.required)
		assert.True(t, ratio.Valid)
	}
}

func TestClassify_NothingRequired(t *testing.T) {
	got, ratio := newTestAnalyzer().Classify(dec("10"), decimal.Zero)
	assert.Equal(t, model.FundingAdequate, got)
	assert.False(t, ratio.Valid)
}

func TestClassify_CustomThresholds(t *testing.T) {
	a := NewAnalyzer(config.FundingConfig{CriticalRatio: 1.0, WarningRatio: 1.1})
	got, _ := a.Classify(dec("105"), dec("100"))
	assert.Equal(t, model.FundingWarning, got)
}

func TestAnalyze(t *testing.T) {
	a := newTestAnalyzer()
	statuses := a.Analyze(
		map[string]decimal.Decimal{
			"Pharmacy": dec("350000"),
			"Medical":  dec("1750000"),
			"Dental":   dec("112000"),
		},
		map[string]decimal.Decimal{
			"Medical":  dec("1850000"),
			"Pharmacy": dec("320000"),
		},
	)

	require.Len(t, statuses, 3)
	assert.Equal(t, "Dental", statuses[0].Category)
	assert.Equal(t, model.FundingCritical, statuses[0].Status)
	assert.True(t, statuses[0].FundedAmount.IsZero())

	assert.Equal(t, "Medical", statuses[1].Category)
	assert.Equal(t, "100000", statuses[1].Variance.String())
	assert.Equal(t, model.FundingAdequate, statuses[1].Status)
	assert.Equal(t, "1.0571", statuses[1].FundingRatio.Decimal.String())

	assert.Equal(t, "Pharmacy", statuses[2].Category)
	assert.Equal(t, "-30000", statuses[2].Variance.String())
	assert.Equal(t, model.FundingWarning, statuses[2].Status)
}
