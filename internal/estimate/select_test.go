package estimate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ibnr-engine/internal/model"
)

var defaultRules = Rules{MinOriginPeriods: 3, CVLimit: 0.25}

func TestSelect(t *testing.T) {
	tests := []struct {
		name     string
		stats    Stats
		rules    Rules
		want     model.ReserveMethod
		fallback bool
	}{
		{
			name:  "mature triangle uses chain-ladder",
			stats: Stats{Transactions: 40, OriginPeriods: 6, Volatility: 0.05},
			rules: defaultRules,
			want:  model.MethodChainLadder,
		},
		{
			name:     "single origin period falls back to expected loss",
			stats:    Stats{Transactions: 3, OriginPeriods: 1, HasInputs: true, APrioriComplete: true},
			rules:    defaultRules,
			want:     model.MethodExpectedLoss,
			fallback: true,
		},
		{
			name:     "no history uses expected loss",
			stats:    Stats{HasInputs: true},
			rules:    defaultRules,
			want:     model.MethodExpectedLoss,
			fallback: true,
		},
		{
			name:     "thin history with a-priori uses BF",
			stats:    Stats{Transactions: 5, OriginPeriods: 2, HasInputs: true, APrioriComplete: true},
			rules:    defaultRules,
			want:     model.MethodBornhuetterFerguson,
			fallback: true,
		},
		{
			name:     "volatile factors with a-priori uses BF",
			stats:    Stats{Transactions: 50, OriginPeriods: 8, Volatility: 0.4, HasInputs: true, APrioriComplete: true},
			rules:    defaultRules,
			want:     model.MethodBornhuetterFerguson,
			fallback: true,
		},
		{
			name:     "undefined factor with partial inputs uses expected loss",
			stats:    Stats{Transactions: 50, OriginPeriods: 8, UndefinedLags: 1, HasInputs: true},
			rules:    defaultRules,
			want:     model.MethodExpectedLoss,
			fallback: true,
		},
		{
			name:     "weak history without inputs keeps chain-ladder",
			stats:    Stats{Transactions: 5, OriginPeriods: 2},
			rules:    defaultRules,
			want:     model.MethodChainLadder,
			fallback: true,
		},
		{
			name:  "forced expected loss",
			stats: Stats{Transactions: 50, OriginPeriods: 8, HasInputs: true},
			rules: Rules{Forced: model.MethodExpectedLoss, MinOriginPeriods: 3, CVLimit: 0.25},
			want:  model.MethodExpectedLoss,
		},
		{
			name:  "forced chain-ladder on thin data",
			stats: Stats{Transactions: 2, OriginPeriods: 1},
			rules: Rules{Forced: model.MethodChainLadder, MinOriginPeriods: 3, CVLimit: 0.25},
			want:  model.MethodChainLadder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := Select("Medical", tt.stats, tt.rules)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sel.Method)
			assert.Equal(t, tt.fallback, sel.Fallback)
			assert.NotEmpty(t, sel.Reason)
		})
	}
}

func TestSelect_InsufficientData(t *testing.T) {
	_, err := Select("Vision", Stats{}, defaultRules)
	var insuf *InsufficientDataError
	require.True(t, errors.As(err, &insuf))
	assert.Equal(t, "Vision", insuf.Category)

	_, err = Select("Vision", Stats{Transactions: 4, OriginPeriods: 1}, defaultRules)
	require.True(t, errors.As(err, &insuf))
}

func TestSelect_ForcedWithoutInputs(t *testing.T) {
	var cfgErr *ConfigurationError

	_, err := Select("Pharmacy", Stats{Transactions: 10, OriginPeriods: 4}, Rules{Forced: model.MethodBornhuetterFerguson})
	require.True(t, errors.As(err, &cfgErr))

	_, err = Select("Pharmacy", Stats{Transactions: 10, OriginPeriods: 4}, Rules{Forced: model.MethodExpectedLoss})
	require.True(t, errors.As(err, &cfgErr))
	assert.Contains(t, err.Error(), "Pharmacy")
}

func TestSelect_Deterministic(t *testing.T) {
	s := Stats{Transactions: 12, OriginPeriods: 4, Volatility: 0.3, HasInputs: true}
	a, errA := Select("Medical", s, defaultRules)
	b, errB := Select("Medical", s, defaultRules)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}
