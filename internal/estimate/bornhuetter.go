package estimate

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/ibnr-engine/internal/model"
)

// BornhuetterFerguson estimates each origin period's reserve as expected
// ultimate x (1 - 1/CDF). Every origin period needs an a-priori expectation.
func BornhuetterFerguson(in Inputs) (*Projection, error) {
	var missing []string
	for _, origin := range in.Triangle.Origins() {
		if _, ok := in.APriori[origin]; !ok {
			missing = append(missing, origin.String())
		}
	}
	if len(missing) > 0 {
		return nil, &ConfigurationError{
			Category: in.Triangle.Category,
			Reason:   "no expected loss input for origin periods " + strings.Join(missing, ", "),
		}
	}

	proj := newProjection(model.MethodBornhuetterFerguson)
	for _, origin := range in.Triangle.Origins() {
		lag, paid, ok := in.Triangle.Latest(origin)
		if !ok {
			continue
		}
		proj.add(bfRow(in, origin, lag, paid, in.APriori[origin]))
	}
	return proj, nil
}

func bfRow(in Inputs, origin model.Period, lag int, paid, expected decimal.Decimal) model.OriginProjection {
	reserve := expected.Mul(in.Pattern.PercentUnreported(lag)).Round(MoneyPlaces)
	return model.OriginProjection{
		Origin:           origin,
		Lag:              lag,
		Method:           model.MethodBornhuetterFerguson,
		PaidToDate:       paid,
		CDF:              in.Pattern.CDF(lag),
		ExpectedUltimate: nullable(expected, true),
		Ultimate:         paid.Add(reserve),
		Reserve:          reserve,
	}
}
