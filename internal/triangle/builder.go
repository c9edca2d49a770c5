// Package triangle builds cumulative loss development triangles from the
// claim transaction log.
package triangle

import (
	"fmt"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/ibnr-engine/internal/model"
)

// Builder aggregates transactions for one category. Transactions may be
// added in any order; the result only depends on the set added.
type Builder struct {
	category string
	asOf     model.Period
	incr     map[model.Period]map[int]decimal.Decimal
	warnings []model.Warning
	added    int
	skipped  int
}

// NewBuilder returns a Builder for category evaluated at asOf.
func NewBuilder(category string, asOf model.Period) *Builder {
	return &Builder{
		category: category,
		asOf:     asOf,
		incr:     make(map[model.Period]map[int]decimal.Decimal),
	}
}

// Add folds one transaction into the triangle. Transactions recognized after
// the evaluation period are skipped. A payment dated before its origin is
// booked at lag 0 and recorded as an anomaly.
func (b *Builder) Add(tx model.ClaimTransaction) error {
	if tx.OriginPeriod.Grain != b.asOf.Grain || tx.TransactionPeriod.Grain != b.asOf.Grain {
		return eris.Errorf("triangle: transaction %s grain does not match evaluation grain %s", tx.ID, b.asOf.Grain)
	}
	if tx.OriginPeriod.After(b.asOf) || tx.TransactionPeriod.After(b.asOf) {
		b.skipped++
		return nil
	}

	lag := tx.TransactionPeriod.Lag(tx.OriginPeriod)
	if lag < 0 {
		origin := tx.OriginPeriod
		b.warnings = append(b.warnings, model.Warning{
			Category: b.category,
			Kind:     model.WarningNegativeLag,
			Origin:   &origin,
			Message:  fmt.Sprintf("transaction %s recognized in %s before origin %s; booked at lag 0", tx.ID, tx.TransactionPeriod, tx.OriginPeriod),
		})
		lag = 0
	}

	row, ok := b.incr[tx.OriginPeriod]
	if !ok {
		row = make(map[int]decimal.Decimal)
		b.incr[tx.OriginPeriod] = row
	}
	row[lag] = row[lag].Add(tx.Amount)
	b.added++
	return nil
}

// Added returns the number of transactions folded into the triangle.
func (b *Builder) Added() int {
	return b.added
}

// Skipped returns the number of transactions past the evaluation period.
func (b *Builder) Skipped() int {
	return b.skipped
}

// Build returns the cumulative triangle and any anomaly warnings. Every lag
// from 0 to the evaluation period is populated for each origin; a cumulative
// decrease flags the cell but keeps its value.
func (b *Builder) Build() (*model.LossTriangle, []model.Warning) {
	tri := model.NewLossTriangle(b.category, b.asOf)
	warnings := slices.Clone(b.warnings)

	origins := make([]model.Period, 0, len(b.incr))
	for o := range b.incr {
		origins = append(origins, o)
	}
	slices.SortFunc(origins, func(a, c model.Period) int { return a.Ordinal - c.Ordinal })

	for _, origin := range origins {
		row := b.incr[origin]
		cum := decimal.Zero
		for lag := 0; lag <= b.asOf.Lag(origin); lag++ {
			prev := cum
			cum = cum.Add(row[lag])
			tri.Set(origin, lag, cum)

			if lag > 0 && cum.LessThan(prev) {
				tri.Flag(origin, lag)
				o, l := origin, lag
				warnings = append(warnings, model.Warning{
					Category: b.category,
					Kind:     model.WarningCumulativeDecrease,
					Origin:   &o,
					Lag:      &l,
					Message:  fmt.Sprintf("cumulative paid for origin %s fell from %s to %s at lag %d", origin, prev.StringFixed(2), cum.StringFixed(2), lag),
				})
			}
		}
	}

	return tri, warnings
}

// Build is a convenience wrapper that folds txs into a new Builder.
func Build(category string, asOf model.Period, txs []model.ClaimTransaction) (*model.LossTriangle, []model.Warning, error) {
	b := NewBuilder(category, asOf)
	for _, tx := range txs {
		if err := b.Add(tx); err != nil {
			return nil, nil, err
		}
	}
	tri, warnings := b.Build()
	return tri, warnings, nil
}

// FromRows builds a triangle directly from cumulative rows, oldest origin
// first, with nil for unobserved cells. The evaluation period is the last
// origin's first cell.
func FromRows(category string, first model.Period, rows [][]*decimal.Decimal) *model.LossTriangle {
	asOf := first.Add(len(rows) - 1)
	tri := model.NewLossTriangle(category, asOf)
	for i, row := range rows {
		origin := first.Add(i)
		for lag, v := range row {
			if v != nil {
				tri.Set(origin, lag, *v)
			}
		}
	}
	return tri
}
