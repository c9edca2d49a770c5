package estimate

import (
	"fmt"

	"github.com/sells-group/ibnr-engine/internal/model"
)

// Stats summarizes a category's data for method selection.
type Stats struct {
	Transactions    int
	OriginPeriods   int
	UndefinedLags   int
	Volatility      float64
	HasInputs       bool // at least one expected-loss input
	APrioriComplete bool // an input for every origin period in the triangle
}

// Rules are the configured selection thresholds.
type Rules struct {
	Forced           model.ReserveMethod // empty means automatic
	MinOriginPeriods int
	CVLimit          float64
}

// Selection is the resolved method for a category.
type Selection struct {
	Method   model.ReserveMethod
	Reason   string
	Fallback bool // true when the preferred method was not viable
}

// Select resolves the reserving method from triangle statistics. It is pure:
// the same stats and rules always give the same answer.
func Select(category string, s Stats, r Rules) (Selection, error) {
	if r.Forced != "" {
		return selectForced(category, s, r.Forced)
	}

	if s.Transactions == 0 {
		if s.HasInputs {
			return Selection{Method: model.MethodExpectedLoss, Reason: "no claim history", Fallback: true}, nil
		}
		return Selection{}, &InsufficientDataError{Category: category, Reason: "no transactions and no expected loss inputs"}
	}

	if s.OriginPeriods < 2 {
		if s.HasInputs {
			return Selection{Method: model.MethodExpectedLoss, Reason: "single origin period", Fallback: true}, nil
		}
		return Selection{}, &InsufficientDataError{Category: category, Reason: "single origin period and no expected loss inputs"}
	}

	var weakness string
	switch {
	case s.OriginPeriods < r.MinOriginPeriods:
		weakness = fmt.Sprintf("%d origin periods, %d required for chain-ladder", s.OriginPeriods, r.MinOriginPeriods)
	case s.UndefinedLags > 0:
		weakness = fmt.Sprintf("%d undefined development factors", s.UndefinedLags)
	case s.Volatility > r.CVLimit:
		weakness = fmt.Sprintf("factor volatility %.3f above limit %.3f", s.Volatility, r.CVLimit)
	}
	if weakness == "" {
		return Selection{Method: model.MethodChainLadder, Reason: "sufficient development history"}, nil
	}

	switch {
	case s.APrioriComplete:
		return Selection{Method: model.MethodBornhuetterFerguson, Reason: weakness, Fallback: true}, nil
	case s.HasInputs:
		return Selection{Method: model.MethodExpectedLoss, Reason: weakness, Fallback: true}, nil
	default:
		return Selection{Method: model.MethodChainLadder, Reason: weakness + "; no a-priori inputs, chain-ladder kept", Fallback: true}, nil
	}
}

func selectForced(category string, s Stats, m model.ReserveMethod) (Selection, error) {
	switch m {
	case model.MethodChainLadder:
		if s.Transactions == 0 {
			return Selection{}, &InsufficientDataError{Category: category, Reason: "chain-ladder forced but no transactions"}
		}
	case model.MethodBornhuetterFerguson:
		if s.OriginPeriods == 0 || !s.APrioriComplete {
			return Selection{}, &ConfigurationError{Category: category, Reason: "bornhuetter-ferguson forced without expected loss inputs for every origin period"}
		}
	case model.MethodExpectedLoss:
		if !s.HasInputs {
			return Selection{}, &ConfigurationError{Category: category, Reason: "expected loss forced without expected loss inputs"}
		}
	default:
		return Selection{}, &ConfigurationError{Category: category, Reason: fmt.Sprintf("unknown method %q", m)}
	}
	return Selection{Method: m, Reason: "forced by configuration"}, nil
}
