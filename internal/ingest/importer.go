package ingest

import (
	"bytes"
	"context"
	"path"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/ibnr-engine/internal/model"
)

// Sink is the part of the store an import writes to.
type Sink interface {
	AppendTransactions(ctx context.Context, txs []model.ClaimTransaction) (int64, error)
	UpsertExpectedLossInput(ctx context.Context, in model.ExpectedLossInput) error
	SetFundedBalance(ctx context.Context, category string, period model.Period, amount decimal.Decimal) error
	SetCaseReserve(ctx context.Context, category string, period model.Period, amount decimal.Decimal) error
}

// Options configures an Importer.
type Options struct {
	BatchSize  int         // transactions per AppendTransactions call; default 5000
	Sheet      string      // xlsx sheet name; empty means the first sheet
	Delimiter  rune        // csv delimiter; default ','
	Downloader *Downloader // used for http(s) sources
	Now        func() time.Time
}

// Result summarizes one import.
type Result struct {
	Kind    Kind   `json:"kind"`
	Source  string `json:"source"`
	Rows    int    `json:"rows"`
	Written int64  `json:"written"` // rows inserted or updated; duplicate transactions are not counted
}

// Importer parses source files and writes them to a Sink. Every row is
// validated before anything is written, so a bad row leaves the store
// untouched.
type Importer struct {
	sink Sink
	opts Options
}

// NewImporter returns an Importer writing to sink.
func NewImporter(sink Sink, opts Options) *Importer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5000
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Importer{sink: sink, opts: opts}
}

// Import reads src (a path or http(s) URL) and loads it as kind.
func (im *Importer) Import(ctx context.Context, kind Kind, src string) (*Result, error) {
	data, err := Open(ctx, im.opts.Downloader, src)
	if err != nil {
		return nil, err
	}
	res, err := im.ImportData(ctx, kind, data, isXLSX(data) || strings.EqualFold(path.Ext(src), ".xlsx"))
	if res != nil {
		res.Source = src
	}
	return res, err
}

// ImportData loads an in-memory CSV or XLSX document as kind.
func (im *Importer) ImportData(ctx context.Context, kind Kind, data []byte, xlsx bool) (*Result, error) {
	log := zap.L().With(zap.String("component", "ingest"), zap.String("kind", string(kind)))

	var rowCh <-chan []string
	var errCh <-chan error
	if xlsx {
		rowCh, errCh = StreamXLSX(ctx, data, im.opts.Sheet)
	} else {
		rowCh, errCh = StreamCSV(ctx, bytes.NewReader(data), CSVOptions{Delimiter: im.opts.Delimiter, Comment: '#'})
	}

	now := im.opts.Now().UTC()
	p := &parsed{kind: kind}
	line := 0
	var parseErr error
	for row := range rowCh {
		line++
		if parseErr != nil || blank(row) {
			continue
		}
		if p.header == nil {
			p.header, parseErr = newHeader(kind, row)
			continue
		}
		if err := p.add(row, now); err != nil {
			parseErr = eris.Wrapf(err, "ingest: %s line %d", kind, line)
		}
	}
	for err := range errCh {
		if err != nil {
			return nil, err
		}
	}
	if parseErr != nil {
		return nil, parseErr
	}
	if p.header == nil {
		return nil, eris.Errorf("ingest: %s source is empty", kind)
	}

	res := &Result{Kind: kind, Rows: p.rows}
	written, err := im.write(ctx, p)
	res.Written = written
	if err != nil {
		return res, err
	}
	log.Info("import complete", zap.Int("rows", res.Rows), zap.Int64("written", res.Written))
	return res, nil
}

// parsed holds the validated rows of one source.
type parsed struct {
	kind     Kind
	header   header
	rows     int
	txs      []model.ClaimTransaction
	inputs   []model.ExpectedLossInput
	balances []balance
}

func (p *parsed) add(row []string, now time.Time) error {
	switch p.kind {
	case KindTransactions:
		tx, err := p.header.transaction(row, now)
		if err != nil {
			return err
		}
		p.txs = append(p.txs, tx)
	case KindInputs:
		in, err := p.header.input(row)
		if err != nil {
			return err
		}
		p.inputs = append(p.inputs, in)
	case KindBalances, KindCaseReserves:
		b, err := p.header.balance(row)
		if err != nil {
			return err
		}
		p.balances = append(p.balances, b)
	}
	p.rows++
	return nil
}

func (im *Importer) write(ctx context.Context, p *parsed) (int64, error) {
	var written int64
	switch p.kind {
	case KindTransactions:
		for start := 0; start < len(p.txs); start += im.opts.BatchSize {
			end := min(start+im.opts.BatchSize, len(p.txs))
			n, err := im.sink.AppendTransactions(ctx, p.txs[start:end])
			written += n
			if err != nil {
				return written, eris.Wrapf(err, "ingest: append transactions %d-%d", start+1, end)
			}
		}
	case KindInputs:
		for _, in := range p.inputs {
			if err := im.sink.UpsertExpectedLossInput(ctx, in); err != nil {
				return written, eris.Wrapf(err, "ingest: upsert input %s %s", in.Category, in.Period)
			}
			written++
		}
	case KindBalances, KindCaseReserves:
		set := im.sink.SetFundedBalance
		if p.kind == KindCaseReserves {
			set = im.sink.SetCaseReserve
		}
		for _, b := range p.balances {
			if err := set(ctx, b.category, b.period, b.amount); err != nil {
				return written, eris.Wrapf(err, "ingest: set %s %s %s", p.kind, b.category, b.period)
			}
			written++
		}
	}
	return written, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}
