package estimate

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/ibnr-engine/internal/model"
)

// ChainLadder projects each origin period's latest diagonal to ultimate with
// the CDF at its lag. Reserve = ultimate - latest cumulative.
func ChainLadder(in Inputs) *Projection {
	proj := newProjection(model.MethodChainLadder)
	for _, origin := range in.Triangle.Origins() {
		lag, paid, ok := in.Triangle.Latest(origin)
		if !ok {
			continue
		}
		proj.add(chainLadderRow(in, origin, lag, paid))
	}
	return proj
}

// Blend runs Chain-Ladder but switches origin periods younger than bfMaxLag
// to Bornhuetter-Ferguson when an a-priori expectation exists for them.
// The projection keeps MethodChainLadder; each row records its own method.
func Blend(in Inputs, bfMaxLag int) *Projection {
	proj := newProjection(model.MethodChainLadder)
	for _, origin := range in.Triangle.Origins() {
		lag, paid, ok := in.Triangle.Latest(origin)
		if !ok {
			continue
		}
		if expected, has := in.APriori[origin]; has && lag < bfMaxLag {
			proj.add(bfRow(in, origin, lag, paid, expected))
			continue
		}
		proj.add(chainLadderRow(in, origin, lag, paid))
	}
	return proj
}

func chainLadderRow(in Inputs, origin model.Period, lag int, paid decimal.Decimal) model.OriginProjection {
	cdf := in.Pattern.CDF(lag)
	ultimate := paid.Mul(cdf).Round(MoneyPlaces)
	expected, has := in.APriori[origin]
	return model.OriginProjection{
		Origin:           origin,
		Lag:              lag,
		Method:           model.MethodChainLadder,
		PaidToDate:       paid,
		CDF:              cdf,
		ExpectedUltimate: nullable(expected, has),
		Ultimate:         ultimate,
		Reserve:          ultimate.Sub(paid),
	}
}
