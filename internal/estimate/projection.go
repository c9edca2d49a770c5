// Package estimate projects ultimate losses and IBNR reserves with the
// Chain-Ladder, Bornhuetter-Ferguson and Expected Loss methods.
package estimate

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/ibnr-engine/internal/development"
	"github.com/sells-group/ibnr-engine/internal/model"
)

// MoneyPlaces is the rounding applied to projected amounts.
const MoneyPlaces = 2

// Inputs bundles what the projection methods read. APriori maps origin
// period to expected ultimate loss (exposure x expected loss ratio).
type Inputs struct {
	Triangle *model.LossTriangle
	Pattern  *development.Pattern
	APriori  map[model.Period]decimal.Decimal
}

// Projection is the result of one method applied to one category.
type Projection struct {
	Method     model.ReserveMethod      `json:"method"`
	Origins    []model.OriginProjection `json:"origins"`
	PaidToDate decimal.Decimal          `json:"paid_to_date"`
	Ultimate   decimal.Decimal          `json:"ultimate"`
	Reserve    decimal.Decimal          `json:"reserve"`
}

func (p *Projection) add(row model.OriginProjection) {
	p.Origins = append(p.Origins, row)
	p.PaidToDate = p.PaidToDate.Add(row.PaidToDate)
	p.Ultimate = p.Ultimate.Add(row.Ultimate)
	p.Reserve = p.Reserve.Add(row.Reserve)
}

func newProjection(m model.ReserveMethod) *Projection {
	return &Projection{Method: m, PaidToDate: decimal.Zero, Ultimate: decimal.Zero, Reserve: decimal.Zero}
}

// APrioriFrom indexes expected-loss inputs by period.
func APrioriFrom(inputs []model.ExpectedLossInput) map[model.Period]decimal.Decimal {
	out := make(map[model.Period]decimal.Decimal, len(inputs))
	for _, in := range inputs {
		out[in.Period] = in.ExpectedUltimate().Round(MoneyPlaces)
	}
	return out
}

func nullable(v decimal.Decimal, ok bool) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: v, Valid: ok}
}
