// Package report renders reserving results as console tables and Excel
// workbooks.
package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/ibnr-engine/internal/model"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// Money formats d with thousands separators and two decimals.
func Money(d decimal.Decimal) string {
	d = d.Round(2)
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Abs()
	}
	whole := d.Truncate(0)
	cents := d.Sub(whole).Shift(2).IntPart()
	return sign + printer.Sprintf("%d", whole.IntPart()) + fmt.Sprintf(".%02d", cents)
}

// NullMoney formats d or "-" when it is null.
func NullMoney(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return Money(d.Decimal)
}

// Percent formats a fraction such as 0.125 as "12.50%", or "-" when null.
func Percent(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.Shift(2).StringFixed(2) + "%"
}

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
}

// Estimates writes one row per category estimate.
func Estimates(out io.Writer, ests []model.ReserveEstimate) {
	w := newTable(out)
	_, _ = fmt.Fprintln(w, "CATEGORY\tMETHOD\tPAID\tIBNR\tPRIOR\tCHANGE\tCONFIDENCE\tALTERNATIVE\t")
	for _, e := range ests {
		alt := "-"
		if e.AlternativeMethod != "" && e.AlternativeEstimate.Valid {
			alt = e.AlternativeMethod.Label() + " " + Money(e.AlternativeEstimate.Decimal)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\t\n",
			e.Category,
			e.Method.Label(),
			Money(e.PaidToDate),
			Money(e.PointEstimate),
			NullMoney(e.PriorPeriodEstimate),
			Percent(e.PercentChange),
			e.ConfidenceScore,
			alt,
		)
	}
	_ = w.Flush()
}

// Funding writes one row per funded category.
func Funding(out io.Writer, fs []model.FundingStatus) {
	w := newTable(out)
	_, _ = fmt.Fprintln(w, "CATEGORY\tFUNDED\tREQUIRED\tVARIANCE\tRATIO\tSTATUS\t")
	for _, f := range fs {
		ratio := "-"
		if f.FundingRatio.Valid {
			ratio = f.FundingRatio.Decimal.StringFixed(4)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			f.Category,
			Money(f.FundedAmount),
			Money(f.RequiredAmount),
			Money(f.Variance),
			ratio,
			strings.ToUpper(string(f.Status)),
		)
	}
	_ = w.Flush()
}

// Triangle writes the cumulative paid triangle with origins down and lags
// across. Flagged cells carry a trailing "*".
func Triangle(out io.Writer, tri *model.LossTriangle) {
	w := newTable(out)
	rows := tri.Rows()
	width := tri.MaxLag() + 1

	header := []string{"ORIGIN"}
	for lag := range width {
		header = append(header, strconv.Itoa(lag))
	}
	_, _ = fmt.Fprintln(w, strings.Join(header, "\t")+"\t")

	for _, row := range rows {
		flagged := make(map[int]bool, len(row.FlaggedLags))
		for _, lag := range row.FlaggedLags {
			flagged[lag] = true
		}
		cells := []string{row.Origin.String()}
		for lag, v := range row.Values {
			cell := ""
			if v != nil {
				cell = Money(*v)
			}
			if flagged[lag] {
				cell += "*"
			}
			cells = append(cells, cell)
		}
		_, _ = fmt.Fprintln(w, strings.Join(cells, "\t")+"\t")
	}
	_ = w.Flush()
}

// Factors writes the development pattern for one category.
func Factors(out io.Writer, factors []model.DevelopmentFactor) {
	w := newTable(out)
	_, _ = fmt.Fprintln(w, "LAG\tAGE-TO-AGE\tCDF\tCOMPLETE\tPAIRS\tCV\tNOTE\t")
	for _, f := range factors {
		var notes []string
		switch {
		case f.Undefined:
			notes = append(notes, "undefined")
		case f.Tail:
			notes = append(notes, "tail")
		}
		if f.BelowOne {
			notes = append(notes, "below 1")
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%.4f\t%s\t\n",
			f.Lag,
			f.AgeToAge.StringFixed(6),
			f.CDF.StringFixed(6),
			Percent(decimal.NewNullDecimal(f.PercentComplete)),
			f.Pairs,
			f.CV,
			strings.Join(notes, ", "),
		)
	}
	_ = w.Flush()
}

// RunSummary writes the headline figures of a run followed by its
// exclusions and warnings.
func RunSummary(out io.Writer, run *model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", run.ID)
	_, _ = fmt.Fprintf(w, "As of:\t%s\n", run.AsOf)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", run.Status)
	if !run.SnapshotAt.IsZero() {
		_, _ = fmt.Fprintf(w, "Snapshot:\t%s\n", run.SnapshotAt.UTC().Format("2006-01-02 15:04:05 MST"))
	}
	if run.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", run.Error)
	}
	if run.Status != model.RunStatusFailed {
		_, _ = fmt.Fprintf(w, "Total IBNR:\t%s\n", Money(run.Totals.TotalIBNR))
		_, _ = fmt.Fprintf(w, "Case reserve:\t%s\n", Money(run.Totals.CaseReserve))
		_, _ = fmt.Fprintf(w, "Total liability:\t%s\n", Money(run.Totals.TotalLiability))
		_, _ = fmt.Fprintf(w, "Total funded:\t%s\n", Money(run.Totals.TotalFunded))
		ratio := "-"
		if run.Totals.FundingRatio.Valid {
			ratio = run.Totals.FundingRatio.Decimal.StringFixed(4)
		}
		_, _ = fmt.Fprintf(w, "Funding ratio:\t%s\n", ratio)
	}
	if run.Fingerprint != "" {
		_, _ = fmt.Fprintf(w, "Fingerprint:\t%s\n", run.Fingerprint)
	}
	_ = w.Flush()

	if len(run.Excluded) > 0 {
		_, _ = fmt.Fprintln(out, "\nExcluded categories:")
		for _, x := range run.Excluded {
			_, _ = fmt.Fprintf(out, "  %s (%s): %s\n", x.Category, x.Reason, x.Message)
		}
	}
	if len(run.Warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, wn := range run.Warnings {
			_, _ = fmt.Fprintf(out, "  [%s] %s: %s\n", wn.Kind, wn.Category, wn.Message)
		}
	}
}

// Runs writes a compact run history.
func Runs(out io.Writer, runs []model.Run) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tAS_OF\tSTATUS\tTOTAL_IBNR\tEXCLUDED\tSTARTED\tDURATION")
	for _, r := range runs {
		total := "-"
		if r.Status == model.RunStatusCommitted {
			total = Money(r.Totals.TotalIBNR)
		}
		dur := "-"
		if !r.FinishedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			truncateID(r.ID),
			r.AsOf,
			r.Status,
			total,
			len(r.Excluded),
			r.StartedAt.UTC().Format("2006-01-02 15:04"),
			dur,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
