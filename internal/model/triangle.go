package model

import (
	"encoding/json"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// CellKey addresses one cell of a loss triangle.
type CellKey struct {
	Origin Period
	Lag    int
}

// LossTriangle maps (origin period, development lag) to a cumulative amount.
// Cells past the evaluation period are absent, never zero.
type LossTriangle struct {
	Category string
	AsOf     Period

	cells   map[CellKey]decimal.Decimal
	flagged map[CellKey]bool
	origins []Period
}

// NewLossTriangle returns an empty triangle for category evaluated at asOf.
func NewLossTriangle(category string, asOf Period) *LossTriangle {
	return &LossTriangle{
		Category: category,
		AsOf:     asOf,
		cells:    make(map[CellKey]decimal.Decimal),
		flagged:  make(map[CellKey]bool),
	}
}

// Set stores the cumulative amount for (origin, lag). Cells past AsOf are ignored.
func (t *LossTriangle) Set(origin Period, lag int, cumulative decimal.Decimal) {
	if lag < 0 || origin.Add(lag).After(t.AsOf) {
		return
	}
	key := CellKey{Origin: origin, Lag: lag}
	if _, seen := t.cells[key]; !seen && !t.hasOrigin(origin) {
		t.origins = append(t.origins, origin)
		slices.SortFunc(t.origins, func(a, b Period) int { return a.Ordinal - b.Ordinal })
	}
	t.cells[key] = cumulative
}

// Flag marks a cell as anomalous.
func (t *LossTriangle) Flag(origin Period, lag int) {
	t.flagged[CellKey{Origin: origin, Lag: lag}] = true
}

// Cell returns the cumulative amount and whether the cell is observed.
func (t *LossTriangle) Cell(origin Period, lag int) (decimal.Decimal, bool) {
	v, ok := t.cells[CellKey{Origin: origin, Lag: lag}]
	return v, ok
}

// Flagged reports whether the cell was marked anomalous.
func (t *LossTriangle) Flagged(origin Period, lag int) bool {
	return t.flagged[CellKey{Origin: origin, Lag: lag}]
}

// HasFlags reports whether any cell is flagged.
func (t *LossTriangle) HasFlags() bool {
	return len(t.flagged) > 0
}

// Origins returns origin periods in ascending order.
func (t *LossTriangle) Origins() []Period {
	return slices.Clone(t.origins)
}

// IsEmpty reports whether the triangle has no observed cells.
func (t *LossTriangle) IsEmpty() bool {
	return len(t.cells) == 0
}

// Latest returns the latest diagonal cell for origin.
func (t *LossTriangle) Latest(origin Period) (int, decimal.Decimal, bool) {
	for lag := t.AsOf.Lag(origin); lag >= 0; lag-- {
		if v, ok := t.Cell(origin, lag); ok {
			return lag, v, true
		}
	}
	return 0, decimal.Zero, false
}

// MaxLag returns the largest observed lag across all origins, or -1 when empty.
func (t *LossTriangle) MaxLag() int {
	maxLag := -1
	for k := range t.cells {
		if k.Lag > maxLag {
			maxLag = k.Lag
		}
	}
	return maxLag
}

func (t *LossTriangle) hasOrigin(p Period) bool {
	return slices.Contains(t.origins, p)
}

// TriangleRow is one origin period in display form. Values has one entry per
// lag up to the triangle's max lag; nil means unobserved.
type TriangleRow struct {
	Origin      Period             `json:"origin"`
	Values      []*decimal.Decimal `json:"values"`
	FlaggedLags []int              `json:"flagged_lags,omitempty"`
}

// Rows returns the triangle in origin order with nil for unobserved cells.
func (t *LossTriangle) Rows() []TriangleRow {
	width := t.MaxLag() + 1
	rows := make([]TriangleRow, 0, len(t.origins))
	for _, origin := range t.origins {
		row := TriangleRow{Origin: origin, Values: make([]*decimal.Decimal, width)}
		for lag := 0; lag < width; lag++ {
			if v, ok := t.Cell(origin, lag); ok {
				row.Values[lag] = &v
			}
			if t.Flagged(origin, lag) {
				row.FlaggedLags = append(row.FlaggedLags, lag)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

type triangleJSON struct {
	Category string        `json:"category"`
	AsOf     Period        `json:"as_of"`
	Rows     []TriangleRow `json:"rows"`
}

func (t *LossTriangle) MarshalJSON() ([]byte, error) {
	return json.Marshal(triangleJSON{Category: t.Category, AsOf: t.AsOf, Rows: t.Rows()})
}

func (t *LossTriangle) UnmarshalJSON(data []byte) error {
	var raw triangleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return eris.Wrap(err, "model: unmarshal triangle")
	}
	*t = *NewLossTriangle(raw.Category, raw.AsOf)
	for _, row := range raw.Rows {
		for lag, v := range row.Values {
			if v != nil {
				t.Set(row.Origin, lag, *v)
			}
		}
		for _, lag := range row.FlaggedLags {
			t.Flag(row.Origin, lag)
		}
	}
	return nil
}
