package report

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/ibnr-engine/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleRun() *model.Run {
	asOf := model.Month(2024, 3)
	tri := model.NewLossTriangle("Medical", asOf)
	tri.Set(model.Month(2024, 1), 0, dec("100"))
	tri.Set(model.Month(2024, 1), 1, dec("150"))
	tri.Set(model.Month(2024, 1), 2, dec("160"))
	tri.Set(model.Month(2024, 2), 0, dec("110"))
	tri.Set(model.Month(2024, 2), 1, dec("140"))
	tri.Set(model.Month(2024, 3), 0, dec("120"))
	tri.Flag(model.Month(2024, 2), 1)

	return &model.Run{
		ID:     "0b9f6d1e-5d0c-4a57-9d0e-3f6c2b1a8e11",
		AsOf:   asOf,
		Status: model.RunStatusCommitted,
		Estimates: []model.ReserveEstimate{{
			Category:            "Medical",
			AsOf:                asOf,
			Method:              model.MethodChainLadder,
			PointEstimate:       dec("1234567.891"),
			PaidToDate:          dec("420"),
			Ultimate:            dec("1234987.89"),
			PriorPeriodEstimate: decimal.NewNullDecimal(dec("1000000")),
			PercentChange:       decimal.NewNullDecimal(dec("0.234568")),
			ConfidenceScore:     72,
			AlternativeMethod:   model.MethodBornhuetterFerguson,
			AlternativeEstimate: decimal.NewNullDecimal(dec("1200000")),
			Factors: []model.DevelopmentFactor{
				{Category: "Medical", Lag: 0, AgeToAge: dec("1.391304"), CDF: dec("1.483"), PercentComplete: dec("0.6743"), Pairs: 2, CV: 0.12},
				{Category: "Medical", Lag: 1, AgeToAge: dec("1.066667"), CDF: dec("1.066667"), PercentComplete: dec("0.9375"), Pairs: 1},
				{Category: "Medical", Lag: 2, AgeToAge: dec("1"), CDF: dec("1"), PercentComplete: dec("1"), Tail: true},
			},
		}},
		Funding: []model.FundingStatus{{
			Category:       "Medical",
			AsOf:           asOf,
			FundedAmount:   dec("1000000"),
			RequiredAmount: dec("1234567.89"),
			Variance:       dec("-234567.89"),
			FundingRatio:   decimal.NewNullDecimal(dec("0.81")),
			Status:         model.FundingCritical,
		}},
		Triangles: []*model.LossTriangle{tri},
		Excluded:  []model.ExcludedCategory{{Category: "Vision", Reason: model.WarningInsufficientData, Message: "no transactions"}},
		Warnings:  []model.Warning{{Category: "Medical", Kind: model.WarningCumulativeDecrease, Message: "cumulative paid fell"}},
		Totals: model.Totals{
			TotalIBNR:      dec("1234567.89"),
			TotalLiability: dec("1234567.89"),
			TotalFunded:    dec("1000000"),
			FundingRatio:   decimal.NewNullDecimal(dec("0.81")),
		},
		Fingerprint: "abc123",
		StartedAt:   time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC),
		FinishedAt:  time.Date(2024, 4, 2, 6, 0, 1, 500_000_000, time.UTC),
	}
}

func TestMoney(t *testing.T) {
	tests := map[string]string{
		"0":           "0.00",
		"5":           "5.00",
		"1234.5":      "1,234.50",
		"1234567.891": "1,234,567.89",
		"-0.5":        "-0.50",
		"-9876543.21": "-9,876,543.21",
		"0.005":       "0.01",
	}
	for in, want := range tests {
		assert.Equal(t, want, Money(dec(in)), in)
	}
}

func TestNullMoneyAndPercent(t *testing.T) {
	assert.Equal(t, "-", NullMoney(decimal.NullDecimal{}))
	assert.Equal(t, "12.00", NullMoney(decimal.NewNullDecimal(dec("12"))))
	assert.Equal(t, "-", Percent(decimal.NullDecimal{}))
	assert.Equal(t, "23.46%", Percent(decimal.NewNullDecimal(dec("0.234568"))))
	assert.Equal(t, "-5.00%", Percent(decimal.NewNullDecimal(dec("-0.05"))))
}

func TestEstimatesTable(t *testing.T) {
	var buf bytes.Buffer
	Estimates(&buf, sampleRun().Estimates)
	out := buf.String()

	assert.Contains(t, out, "CATEGORY")
	assert.Contains(t, out, "Chain-Ladder")
	assert.Contains(t, out, "1,234,567.89")
	assert.Contains(t, out, "1,000,000.00")
	assert.Contains(t, out, "23.46%")
	assert.Contains(t, out, "Bornhuetter-Ferguson 1,200,000.00")
}

func TestFundingTable(t *testing.T) {
	var buf bytes.Buffer
	Funding(&buf, sampleRun().Funding)
	out := buf.String()
	assert.Contains(t, out, "CRITICAL")
	assert.Contains(t, out, "-234,567.89")
	assert.Contains(t, out, "0.8100")
}

func TestTriangleTable(t *testing.T) {
	var buf bytes.Buffer
	Triangle(&buf, sampleRun().Triangles[0])
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")

	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "ORIGIN")
	assert.Contains(t, lines[1], "2024-01")
	assert.Contains(t, lines[1], "160.00")
	assert.Contains(t, lines[2], "140.00*")
	assert.NotContains(t, lines[3], "*")
}

func TestFactorsTable(t *testing.T) {
	var buf bytes.Buffer
	Factors(&buf, sampleRun().Estimates[0].Factors)
	out := buf.String()
	assert.Contains(t, out, "1.391304")
	assert.Contains(t, out, "67.43%")
	assert.Contains(t, out, "tail")
}

func TestRunSummary(t *testing.T) {
	var buf bytes.Buffer
	RunSummary(&buf, sampleRun())
	out := buf.String()

	assert.Contains(t, out, "Total IBNR:")
	assert.Contains(t, out, "1,234,567.89")
	assert.Contains(t, out, "Funding ratio:")
	assert.Contains(t, out, "Vision (insufficient_data): no transactions")
	assert.Contains(t, out, "[cumulative_decrease] Medical")
	assert.Contains(t, out, "Fingerprint:")
}

func TestRunSummary_Failed(t *testing.T) {
	var buf bytes.Buffer
	RunSummary(&buf, &model.Run{ID: "r1", AsOf: model.Month(2024, 3), Status: model.RunStatusFailed, Error: "no estimates"})
	out := buf.String()
	assert.Contains(t, out, "Error:")
	assert.NotContains(t, out, "Total IBNR")
}

func TestRunsTable(t *testing.T) {
	run := sampleRun()
	failed := model.Run{ID: "short", AsOf: run.AsOf, Status: model.RunStatusFailed, StartedAt: run.StartedAt}

	var buf bytes.Buffer
	Runs(&buf, []model.Run{*run, failed})
	out := buf.String()
	assert.Contains(t, out, "0b9f6d1e ")
	assert.NotContains(t, out, "0b9f6d1e-")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "short")
}

func TestWorkbook(t *testing.T) {
	f, err := Workbook(sampleRun())
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "run.xlsx")
	require.NoError(t, Save(path, f))

	back, err := xlsx.OpenFile(path)
	require.NoError(t, err)

	names := make([]string, 0, len(back.Sheets))
	for _, sh := range back.Sheets {
		names = append(names, sh.Name)
	}
	assert.Equal(t, []string{"Estimates", "Funding", "Factors", "Triangle Medical"}, names)

	est := back.Sheet["Estimates"]
	require.Len(t, est.Rows, 2)
	assert.Equal(t, "Medical", est.Rows[1].Cells[0].Value)
	assert.Equal(t, "Chain-Ladder", est.Rows[1].Cells[2].Value)

	tri := back.Sheet["Triangle Medical"]
	require.Len(t, tri.Rows, 4)
	assert.Equal(t, "2024-03", tri.Rows[3].Cells[0].Value)

	factors := back.Sheet["Factors"]
	assert.Len(t, factors.Rows, 4)
}

func TestTriangleWorkbook_Write(t *testing.T) {
	f, err := TriangleWorkbook(sampleRun().Triangles[0])
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, f))

	back, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, back.Sheets, 1)
	assert.Equal(t, "Triangle Medical", back.Sheets[0].Name)
}

func TestSheetName(t *testing.T) {
	used := map[string]bool{}
	assert.Equal(t, "Triangle A_B", sheetName("Triangle A/B", used))
	assert.Equal(t, "Triangle A_B (2)", sheetName("Triangle A:B", used))

	long := sheetName("Triangle Behavioral Health Outpatient", used)
	assert.Len(t, long, maxSheetName)

	dup := sheetName("Triangle Behavioral Health Outpatient", used)
	assert.Len(t, dup, maxSheetName)
	assert.True(t, strings.HasSuffix(dup, " (2)"))
}
