package estimate

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/sells-group/ibnr-engine/internal/model"
)

// ExpectedLoss estimates reserve = exposure x expected loss ratio - paid to
// date for every period with a pricing input. tri may be empty. Triangle
// origins without an input are returned in uncovered.
func ExpectedLoss(category string, tri *model.LossTriangle, inputs []model.ExpectedLossInput) (proj *Projection, uncovered []model.Period, err error) {
	if len(inputs) == 0 {
		return nil, nil, &ConfigurationError{Category: category, Reason: "no expected loss inputs configured"}
	}

	sorted := slices.Clone(inputs)
	slices.SortFunc(sorted, func(a, b model.ExpectedLossInput) int { return a.Period.Ordinal - b.Period.Ordinal })

	covered := make(map[model.Period]bool, len(sorted))
	proj = newProjection(model.MethodExpectedLoss)
	for _, in := range sorted {
		covered[in.Period] = true
		paid, lag := decimal.Zero, 0
		if tri != nil {
			if l, v, ok := tri.Latest(in.Period); ok {
				paid, lag = v, l
			}
		}
		expected := in.ExpectedUltimate().Round(MoneyPlaces)
		proj.add(model.OriginProjection{
			Origin:           in.Period,
			Lag:              lag,
			Method:           model.MethodExpectedLoss,
			PaidToDate:       paid,
			CDF:              decimal.NewFromInt(1),
			ExpectedUltimate: nullable(expected, true),
			Ultimate:         expected,
			Reserve:          expected.Sub(paid),
		})
	}

	if tri != nil {
		for _, origin := range tri.Origins() {
			if !covered[origin] {
				uncovered = append(uncovered, origin)
			}
		}
	}
	return proj, uncovered, nil
}
