package ingest

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/ibnr-engine/internal/model"
)

// Kind names what a source file holds.
type Kind string

const (
	KindTransactions Kind = "transactions"
	KindInputs       Kind = "inputs"
	KindBalances     Kind = "balances"
	KindCaseReserves Kind = "case_reserves"
)

// ParseKind accepts the kind names plus a few plural or hyphenated forms.
func ParseKind(s string) (Kind, error) {
	switch normalize(s) {
	case "transactions", "transaction", "ledger":
		return KindTransactions, nil
	case "inputs", "input", "expected_loss_inputs", "assumptions":
		return KindInputs, nil
	case "balances", "balance", "funded_balances":
		return KindBalances, nil
	case "case_reserves", "case_reserve":
		return KindCaseReserves, nil
	default:
		return "", eris.Errorf("ingest: unknown import kind %q", s)
	}
}

// column lists the header names accepted for one field.
type column struct {
	field    string
	aliases  []string
	optional bool
}

var layouts = map[Kind][]column{
	KindTransactions: {
		{field: "id", aliases: []string{"id", "transaction_id", "txn_id"}},
		{field: "category", aliases: []string{"category", "claim_category", "line"}},
		{field: "origin", aliases: []string{"origin_period", "origin", "incurred_period"}},
		{field: "txn", aliases: []string{"transaction_period", "paid_period", "payment_period"}},
		{field: "amount", aliases: []string{"amount", "paid_amount", "paid"}},
		{field: "recorded_at", aliases: []string{"recorded_at", "posted_at"}, optional: true},
	},
	KindInputs: {
		{field: "category", aliases: []string{"category", "claim_category", "line"}},
		{field: "period", aliases: []string{"period", "origin_period", "origin"}},
		{field: "exposure", aliases: []string{"exposure", "earned_premium", "premium"}},
		{field: "loss_ratio", aliases: []string{"loss_ratio", "expected_loss_ratio", "elr"}},
	},
	KindBalances: {
		{field: "category", aliases: []string{"category", "claim_category", "line"}},
		{field: "period", aliases: []string{"period", "as_of"}},
		{field: "amount", aliases: []string{"amount", "funded_amount", "balance"}},
	},
	KindCaseReserves: {
		{field: "category", aliases: []string{"category", "claim_category", "line"}},
		{field: "period", aliases: []string{"period", "as_of"}},
		{field: "amount", aliases: []string{"amount", "case_reserve", "reserve"}},
	},
}

// header maps field names to column indexes.
type header map[string]int

func newHeader(kind Kind, row []string) (header, error) {
	cols, ok := layouts[kind]
	if !ok {
		return nil, eris.Errorf("ingest: unknown import kind %q", kind)
	}
	pos := make(map[string]int, len(row))
	for i, name := range row {
		if _, dup := pos[normalize(name)]; !dup {
			pos[normalize(name)] = i
		}
	}

	h := make(header, len(cols))
	var missing []string
	for _, c := range cols {
		found := false
		for _, alias := range c.aliases {
			if i, ok := pos[alias]; ok {
				h[c.field] = i
				found = true
				break
			}
		}
		if !found && !c.optional {
			missing = append(missing, c.aliases[0])
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("ingest: %s header is missing column(s): %s", kind, strings.Join(missing, ", "))
	}
	return h, nil
}

func (h header) get(row []string, field string) string {
	i, ok := h[field]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func (h header) required(row []string, field string) (string, error) {
	v := h.get(row, field)
	if v == "" {
		return "", eris.Errorf("%s is empty", field)
	}
	return v, nil
}

func (h header) period(row []string, field string) (model.Period, error) {
	v, err := h.required(row, field)
	if err != nil {
		return model.Period{}, err
	}
	return model.ParsePeriod(v)
}

func (h header) amount(row []string, field string) (decimal.Decimal, error) {
	v, err := h.required(row, field)
	if err != nil {
		return decimal.Zero, err
	}
	return parseAmount(v)
}

// parseAmount accepts plain decimals plus "$1,234.50" and accounting
// negatives like "(12.00)".
func parseAmount(s string) (decimal.Decimal, error) {
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "invalid amount %q", s)
	}
	if neg {
		d = d.Neg()
	}
	return d, nil
}

var timeLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("invalid timestamp %q", s)
}

func (h header) transaction(row []string, now time.Time) (model.ClaimTransaction, error) {
	var (
		tx  model.ClaimTransaction
		err error
	)
	if tx.ID, err = h.required(row, "id"); err != nil {
		return tx, err
	}
	if tx.Category, err = h.required(row, "category"); err != nil {
		return tx, err
	}
	if tx.OriginPeriod, err = h.period(row, "origin"); err != nil {
		return tx, err
	}
	if tx.TransactionPeriod, err = h.period(row, "txn"); err != nil {
		return tx, err
	}
	if tx.OriginPeriod.Grain != tx.TransactionPeriod.Grain {
		return tx, eris.Errorf("origin %s and transaction %s periods differ in grain", tx.OriginPeriod, tx.TransactionPeriod)
	}
	if tx.Amount, err = h.amount(row, "amount"); err != nil {
		return tx, err
	}
	tx.RecordedAt = now
	if v := h.get(row, "recorded_at"); v != "" {
		if tx.RecordedAt, err = parseTime(v); err != nil {
			return tx, err
		}
	}
	return tx, nil
}

func (h header) input(row []string) (model.ExpectedLossInput, error) {
	var (
		in  model.ExpectedLossInput
		err error
	)
	if in.Category, err = h.required(row, "category"); err != nil {
		return in, err
	}
	if in.Period, err = h.period(row, "period"); err != nil {
		return in, err
	}
	if in.Exposure, err = h.amount(row, "exposure"); err != nil {
		return in, err
	}
	if in.Exposure.IsNegative() {
		return in, eris.New("exposure must not be negative")
	}
	ratio, err := h.required(row, "loss_ratio")
	if err != nil {
		return in, err
	}
	if in.LossRatio, err = parseRatio(ratio); err != nil {
		return in, err
	}
	return in, nil
}

// parseRatio accepts 0.82 or 82%.
func parseRatio(s string) (decimal.Decimal, error) {
	pct := strings.HasSuffix(s, "%")
	d, err := decimal.NewFromString(strings.TrimSpace(strings.TrimSuffix(s, "%")))
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "invalid loss ratio %q", s)
	}
	if pct {
		d = d.Shift(-2)
	}
	if d.IsNegative() {
		return decimal.Zero, eris.Errorf("loss ratio %q must not be negative", s)
	}
	return d, nil
}

// balance is a dated amount for one category.
type balance struct {
	category string
	period   model.Period
	amount   decimal.Decimal
}

func (h header) balance(row []string) (balance, error) {
	var (
		b   balance
		err error
	)
	if b.category, err = h.required(row, "category"); err != nil {
		return b, err
	}
	if b.period, err = h.period(row, "period"); err != nil {
		return b, err
	}
	if b.amount, err = h.amount(row, "amount"); err != nil {
		return b, err
	}
	return b, nil
}

// normalize lower-cases a header or kind name and folds spaces and dashes
// to underscores.
func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}
