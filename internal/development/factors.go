// Package development derives age-to-age and cumulative development factors
// from a loss triangle.
package development

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/ibnr-engine/internal/model"
)

// FactorPlaces is the rounding applied to every factor so runs are byte-stable.
const FactorPlaces = 6

var one = decimal.NewFromInt(1)

// Pattern is the development pattern of one triangle.
type Pattern struct {
	Category   string                    `json:"category"`
	Tail       decimal.Decimal           `json:"tail"`
	Factors    []model.DevelopmentFactor `json:"factors"`
	Volatility float64                   `json:"volatility"` // volume-weighted mean CV of link ratios
	Warnings   []model.Warning           `json:"warnings,omitempty"`
}

// Calculate computes volume-weighted link ratios for each lag transition of
// tri and the CDF from each lag to ultimate. The last observed lag carries the
// tail factor. A lag with no usable denominator gets factor 1.0 and a warning;
// a factor below 1.0 is kept and warned.
func Calculate(tri *model.LossTriangle, tail decimal.Decimal) (*Pattern, error) {
	if tail.LessThan(one) {
		return nil, eris.Errorf("development: tail factor %s must be >= 1", tail)
	}

	p := &Pattern{Category: tri.Category, Tail: tail}
	last := tri.MaxLag()
	if last < 0 {
		return p, nil
	}

	origins := tri.Origins()
	p.Factors = make([]model.DevelopmentFactor, last+1)

	var cvWeighted, cvVolume float64
	for k := 0; k < last; k++ {
		num, den := decimal.Zero, decimal.Zero
		var ratios []float64
		pairs := 0
		for _, o := range origins {
			from, ok := tri.Cell(o, k)
			if !ok {
				continue
			}
			to, ok := tri.Cell(o, k+1)
			if !ok {
				continue
			}
			pairs++
			num = num.Add(to)
			den = den.Add(from)
			if from.IsPositive() {
				ratios = append(ratios, to.Div(from).InexactFloat64())
			}
		}

		f := model.DevelopmentFactor{Category: tri.Category, Lag: k, Pairs: pairs, AgeToAge: one}
		lag := k
		switch {
		case pairs == 0 || !den.IsPositive():
			f.Undefined = true
			p.Warnings = append(p.Warnings, model.Warning{
				Category: tri.Category,
				Kind:     model.WarningUndefinedFactor,
				Lag:      &lag,
				Message:  fmt.Sprintf("no volume to develop lag %d to %d; factor 1.0 assumed", k, k+1),
			})
		default:
			f.AgeToAge = num.DivRound(den, FactorPlaces)
			if f.AgeToAge.LessThan(one) {
				f.BelowOne = true
				p.Warnings = append(p.Warnings, model.Warning{
					Category: tri.Category,
					Kind:     model.WarningFactorBelowOne,
					Lag:      &lag,
					Message:  fmt.Sprintf("age-to-age factor %s at lag %d is below 1.0", f.AgeToAge, k),
				})
			}
			if pairs == 1 {
				p.Warnings = append(p.Warnings, model.Warning{
					Category: tri.Category,
					Kind:     model.WarningThinLag,
					Lag:      &lag,
					Message:  fmt.Sprintf("lag %d factor rests on a single origin period", k),
				})
			}
		}

		if cv, ok := coefficientOfVariation(ratios); ok {
			f.CV = cv
			vol := den.InexactFloat64()
			cvWeighted += cv * vol
			cvVolume += vol
		}
		p.Factors[k] = f
	}

	p.Factors[last] = model.DevelopmentFactor{Category: tri.Category, Lag: last, AgeToAge: tail, Tail: true}

	cdf := tail
	for k := last; k >= 0; k-- {
		if k < last {
			cdf = p.Factors[k].AgeToAge.Mul(cdf).Round(FactorPlaces)
		}
		p.Factors[k].CDF = cdf
		p.Factors[k].PercentComplete = one.DivRound(cdf, FactorPlaces)
	}

	if cvVolume > 0 {
		p.Volatility = cvWeighted / cvVolume
	}
	return p, nil
}

// CDF returns the cumulative factor from lag to ultimate. Lags past the last
// observed lag develop by the tail only.
func (p *Pattern) CDF(lag int) decimal.Decimal {
	if lag < 0 {
		lag = 0
	}
	if lag >= len(p.Factors) {
		return p.Tail
	}
	return p.Factors[lag].CDF
}

// PercentUnreported returns 1 - 1/CDF(lag).
func (p *Pattern) PercentUnreported(lag int) decimal.Decimal {
	return one.Sub(one.DivRound(p.CDF(lag), FactorPlaces))
}

// UndefinedLags counts lag transitions with no usable volume.
func (p *Pattern) UndefinedLags() int {
	n := 0
	for _, f := range p.Factors {
		if f.Undefined {
			n++
		}
	}
	return n
}

// ThinLags counts defined lag transitions resting on a single origin period.
func (p *Pattern) ThinLags() int {
	n := 0
	for _, f := range p.Factors {
		if !f.Tail && !f.Undefined && f.Pairs == 1 {
			n++
		}
	}
	return n
}

// HasBelowOne reports whether any link ratio is below 1.0.
func (p *Pattern) HasBelowOne() bool {
	for _, f := range p.Factors {
		if f.BelowOne {
			return true
		}
	}
	return false
}

// coefficientOfVariation returns sample stddev / mean. It needs at least two
// values and a positive mean.
func coefficientOfVariation(xs []float64) (float64, bool) {
	if len(xs) < 2 {
		return 0, false
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if mean <= 0 {
		return 0, false
	}
	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss/float64(len(xs)-1)) / mean, true
}
