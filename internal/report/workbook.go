package report

import (
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/ibnr-engine/internal/model"
)

// maxSheetName is Excel's limit on worksheet name length.
const maxSheetName = 31

const moneyFormat = "#,##0.00"

// Workbook builds an Excel export of a run: estimates, funding, the
// development factors and one sheet per loss triangle.
func Workbook(run *model.Run) (*xlsx.File, error) {
	f := xlsx.NewFile()

	if err := estimatesSheet(f, run.Estimates); err != nil {
		return nil, err
	}
	if err := fundingSheet(f, run.Funding); err != nil {
		return nil, err
	}
	if err := factorsSheet(f, run.Estimates); err != nil {
		return nil, err
	}
	used := map[string]bool{"Estimates": true, "Funding": true, "Factors": true}
	for _, tri := range run.Triangles {
		if err := triangleSheet(f, tri, used); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// TriangleWorkbook builds an export holding a single triangle.
func TriangleWorkbook(tri *model.LossTriangle) (*xlsx.File, error) {
	f := xlsx.NewFile()
	if err := triangleSheet(f, tri, map[string]bool{}); err != nil {
		return nil, err
	}
	return f, nil
}

// Write encodes f to out.
func Write(out io.Writer, f *xlsx.File) error {
	return eris.Wrap(f.Write(out), "report: write workbook")
}

// Save writes f to path.
func Save(path string, f *xlsx.File) error {
	return eris.Wrapf(f.Save(path), "report: save workbook %s", path)
}

func estimatesSheet(f *xlsx.File, ests []model.ReserveEstimate) error {
	sh, err := f.AddSheet("Estimates")
	if err != nil {
		return eris.Wrap(err, "report: add estimates sheet")
	}
	headerRow(sh, "Category", "As Of", "Method", "Paid To Date", "Ultimate", "IBNR",
		"Prior IBNR", "Change", "Confidence", "Alternative Method", "Alternative IBNR")
	for _, e := range ests {
		row := sh.AddRow()
		row.AddCell().SetString(e.Category)
		row.AddCell().SetString(e.AsOf.String())
		row.AddCell().SetString(e.Method.Label())
		moneyCell(row, e.PaidToDate)
		moneyCell(row, e.Ultimate)
		moneyCell(row, e.PointEstimate)
		nullMoneyCell(row, e.PriorPeriodEstimate)
		if e.PercentChange.Valid {
			row.AddCell().SetFloatWithFormat(e.PercentChange.Decimal.InexactFloat64(), "0.00%")
		} else {
			row.AddCell()
		}
		row.AddCell().SetInt(e.ConfidenceScore)
		if e.AlternativeMethod != "" {
			row.AddCell().SetString(e.AlternativeMethod.Label())
		} else {
			row.AddCell()
		}
		nullMoneyCell(row, e.AlternativeEstimate)
	}
	return nil
}

func fundingSheet(f *xlsx.File, fs []model.FundingStatus) error {
	sh, err := f.AddSheet("Funding")
	if err != nil {
		return eris.Wrap(err, "report: add funding sheet")
	}
	headerRow(sh, "Category", "As Of", "Funded", "Required", "Variance", "Ratio", "Status")
	for _, s := range fs {
		row := sh.AddRow()
		row.AddCell().SetString(s.Category)
		row.AddCell().SetString(s.AsOf.String())
		moneyCell(row, s.FundedAmount)
		moneyCell(row, s.RequiredAmount)
		moneyCell(row, s.Variance)
		if s.FundingRatio.Valid {
			row.AddCell().SetFloatWithFormat(s.FundingRatio.Decimal.InexactFloat64(), "0.0000")
		} else {
			row.AddCell()
		}
		row.AddCell().SetString(string(s.Status))
	}
	return nil
}

func factorsSheet(f *xlsx.File, ests []model.ReserveEstimate) error {
	sh, err := f.AddSheet("Factors")
	if err != nil {
		return eris.Wrap(err, "report: add factors sheet")
	}
	headerRow(sh, "Category", "Lag", "Age-to-Age", "CDF", "Percent Complete", "Pairs", "CV", "Undefined", "Tail")
	for _, e := range ests {
		for _, fac := range e.Factors {
			row := sh.AddRow()
			row.AddCell().SetString(e.Category)
			row.AddCell().SetInt(fac.Lag)
			row.AddCell().SetFloatWithFormat(fac.AgeToAge.InexactFloat64(), "0.000000")
			row.AddCell().SetFloatWithFormat(fac.CDF.InexactFloat64(), "0.000000")
			row.AddCell().SetFloatWithFormat(fac.PercentComplete.InexactFloat64(), "0.00%")
			row.AddCell().SetInt(fac.Pairs)
			row.AddCell().SetFloatWithFormat(fac.CV, "0.0000")
			row.AddCell().SetBool(fac.Undefined)
			row.AddCell().SetBool(fac.Tail)
		}
	}
	return nil
}

func triangleSheet(f *xlsx.File, tri *model.LossTriangle, used map[string]bool) error {
	name := sheetName("Triangle "+tri.Category, used)
	sh, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "report: add triangle sheet for %s", tri.Category)
	}

	header := sh.AddRow()
	header.AddCell().SetString("Origin")
	for lag := range tri.MaxLag() + 1 {
		header.AddCell().SetInt(lag)
	}
	for _, r := range tri.Rows() {
		row := sh.AddRow()
		row.AddCell().SetString(r.Origin.String())
		for _, v := range r.Values {
			if v == nil {
				row.AddCell()
				continue
			}
			moneyCell(row, *v)
		}
	}
	return nil
}

// sheetName strips characters Excel rejects, truncates to the length limit
// and de-duplicates against used.
func sheetName(base string, used map[string]bool) string {
	base = strings.Map(func(r rune) rune {
		switch r {
		case '[', ']', ':', '*', '?', '/', '\\':
			return '_'
		}
		return r
	}, base)
	if len(base) > maxSheetName {
		base = base[:maxSheetName]
	}
	name := base
	for i := 2; used[name]; i++ {
		suffix := " (" + strconv.Itoa(i) + ")"
		name = base
		if len(name)+len(suffix) > maxSheetName {
			name = name[:maxSheetName-len(suffix)]
		}
		name += suffix
	}
	used[name] = true
	return name
}

func headerRow(sh *xlsx.Sheet, names ...string) {
	row := sh.AddRow()
	for _, n := range names {
		cell := row.AddCell()
		cell.SetString(n)
		style := xlsx.NewStyle()
		style.Font.Bold = true
		style.ApplyFont = true
		cell.SetStyle(style)
	}
}

func moneyCell(row *xlsx.Row, d decimal.Decimal) {
	row.AddCell().SetFloatWithFormat(d.Round(2).InexactFloat64(), moneyFormat)
}

func nullMoneyCell(row *xlsx.Row, d decimal.NullDecimal) {
	if !d.Valid {
		row.AddCell()
		return
	}
	moneyCell(row, d.Decimal)
}
