package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/sells-group/ibnr-engine/internal/model"
)

// sqliteTimeLayout has a fixed width so stored times sort lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS claim_transactions (
	id           TEXT PRIMARY KEY,
	category     TEXT NOT NULL,
	grain        TEXT NOT NULL,
	origin_ord   INTEGER NOT NULL,
	txn_ord      INTEGER NOT NULL,
	amount       TEXT NOT NULL,
	recorded_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS expected_loss_inputs (
	category   TEXT NOT NULL,
	grain      TEXT NOT NULL,
	period_ord INTEGER NOT NULL,
	exposure   TEXT NOT NULL,
	loss_ratio TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (category, grain, period_ord)
);

CREATE TABLE IF NOT EXISTS funded_balances (
	category   TEXT NOT NULL,
	grain      TEXT NOT NULL,
	period_ord INTEGER NOT NULL,
	amount     TEXT NOT NULL,
	PRIMARY KEY (category, grain, period_ord)
);

CREATE TABLE IF NOT EXISTS case_reserves (
	category   TEXT NOT NULL,
	grain      TEXT NOT NULL,
	period_ord INTEGER NOT NULL,
	amount     TEXT NOT NULL,
	PRIMARY KEY (category, grain, period_ord)
);

CREATE TABLE IF NOT EXISTS reserve_runs (
	id          TEXT PRIMARY KEY,
	grain       TEXT NOT NULL,
	as_of_ord   INTEGER NOT NULL,
	snapshot_at TEXT NOT NULL,
	status      TEXT NOT NULL,
	fingerprint TEXT NOT NULL DEFAULT '',
	summary     TEXT NOT NULL DEFAULT '{}',
	error       TEXT NOT NULL DEFAULT '',
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reserve_estimates (
	run_id         TEXT NOT NULL REFERENCES reserve_runs(id),
	category       TEXT NOT NULL,
	method         TEXT NOT NULL,
	point_estimate TEXT NOT NULL,
	confidence     INTEGER NOT NULL,
	detail         TEXT NOT NULL,
	PRIMARY KEY (run_id, category)
);

CREATE TABLE IF NOT EXISTS funding_status (
	run_id   TEXT NOT NULL REFERENCES reserve_runs(id),
	category TEXT NOT NULL,
	status   TEXT NOT NULL,
	detail   TEXT NOT NULL,
	PRIMARY KEY (run_id, category)
);

CREATE TABLE IF NOT EXISTS loss_triangles (
	run_id   TEXT NOT NULL REFERENCES reserve_runs(id),
	category TEXT NOT NULL,
	data     TEXT NOT NULL,
	PRIMARY KEY (run_id, category)
);

CREATE INDEX IF NOT EXISTS idx_claim_tx_scan ON claim_transactions(category, grain, txn_ord);
CREATE INDEX IF NOT EXISTS idx_reserve_runs_as_of ON reserve_runs(status, grain, as_of_ord);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	return t, eris.Wrapf(err, "sqlite: parse time %q", s)
}

// --- Claim ledger ---

func (s *SQLiteStore) AppendTransactions(ctx context.Context, txs []model.ClaimTransaction) (int64, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: append transactions: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO claim_transactions (id, category, grain, origin_ord, txn_ord, amount, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: append transactions: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	var inserted int64
	for _, t := range txs {
		if t.OriginPeriod.Grain != t.TransactionPeriod.Grain {
			return 0, eris.Errorf("sqlite: transaction %s mixes %s and %s periods", t.ID, t.OriginPeriod.Grain, t.TransactionPeriod.Grain)
		}
		res, err := stmt.ExecContext(ctx,
			t.ID, t.Category, string(t.OriginPeriod.Grain), t.OriginPeriod.Ordinal, t.TransactionPeriod.Ordinal,
			t.Amount.String(), formatTime(t.RecordedAt),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert transaction %s", t.ID)
		}
		n, _ := res.RowsAffected()
		inserted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: append transactions: commit")
	}
	return inserted, nil
}

func (s *SQLiteStore) ScanTransactions(ctx context.Context, category string, asOf model.Period, snapshotAt time.Time, fn func(model.ClaimTransaction) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, category, grain, origin_ord, txn_ord, amount, recorded_at FROM claim_transactions
		 WHERE category = ? AND grain = ? AND txn_ord <= ? AND recorded_at <= ?
		 ORDER BY origin_ord, txn_ord, id`,
		category, string(asOf.Grain), asOf.Ordinal, formatTime(snapshotAt),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: scan transactions for %s", category)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanSQLiteTransaction(rows)
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "sqlite: scan transactions iterate")
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, category string, asOf model.Period) ([]model.ClaimTransaction, error) {
	var out []model.ClaimTransaction
	err := s.ScanTransactions(ctx, category, asOf, time.Now(), func(t model.ClaimTransaction) error {
		out = append(out, t)
		return nil
	})
	return out, err
}

func scanSQLiteTransaction(row scannable) (model.ClaimTransaction, error) {
	var t model.ClaimTransaction
	var grain, amount, recorded string
	var origin, txn int
	if err := row.Scan(&t.ID, &t.Category, &grain, &origin, &txn, &amount, &recorded); err != nil {
		return t, eris.Wrap(err, "sqlite: scan transaction")
	}
	t.OriginPeriod = parsePeriod(grain, origin)
	t.TransactionPeriod = parsePeriod(grain, txn)
	var err error
	if t.Amount, err = parseDecimal(amount); err != nil {
		return t, err
	}
	t.RecordedAt, err = parseTime(recorded)
	return t, err
}

func (s *SQLiteStore) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category FROM claim_transactions
		 UNION SELECT category FROM expected_loss_inputs
		 ORDER BY 1`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list categories")
	}
	defer rows.Close()

	var cats []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		cats = append(cats, c)
	}
	return cats, eris.Wrap(rows.Err(), "sqlite: list categories iterate")
}

// --- Pricing assumptions ---

func (s *SQLiteStore) UpsertExpectedLossInput(ctx context.Context, in model.ExpectedLossInput) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO expected_loss_inputs (category, grain, period_ord, exposure, loss_ratio, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(category, grain, period_ord) DO UPDATE SET
		   exposure = excluded.exposure, loss_ratio = excluded.loss_ratio, updated_at = excluded.updated_at`,
		in.Category, string(in.Period.Grain), in.Period.Ordinal, in.Exposure.String(), in.LossRatio.String(), formatTime(time.Now()),
	)
	return eris.Wrapf(err, "sqlite: upsert expected loss input %s %s", in.Category, in.Period)
}

func (s *SQLiteStore) ListExpectedLossInputs(ctx context.Context, category string, asOf model.Period) ([]model.ExpectedLossInput, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, grain, period_ord, exposure, loss_ratio FROM expected_loss_inputs
		 WHERE category = ? AND grain = ? AND period_ord <= ? ORDER BY period_ord`,
		category, string(asOf.Grain), asOf.Ordinal,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list expected loss inputs for %s", category)
	}
	defer rows.Close()

	var out []model.ExpectedLossInput
	for rows.Next() {
		in, err := scanSQLiteInput(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list expected loss inputs iterate")
}

func (s *SQLiteStore) GetExpectedLossInput(ctx context.Context, category string, period model.Period) (*model.ExpectedLossInput, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT category, grain, period_ord, exposure, loss_ratio FROM expected_loss_inputs
		 WHERE category = ? AND grain = ? AND period_ord = ?`,
		category, string(period.Grain), period.Ordinal,
	)
	in, err := scanSQLiteInput(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func scanSQLiteInput(row scannable) (model.ExpectedLossInput, error) {
	var in model.ExpectedLossInput
	var grain, exposure, ratio string
	var ord int
	if err := row.Scan(&in.Category, &grain, &ord, &exposure, &ratio); err != nil {
		return in, eris.Wrap(err, "sqlite: scan expected loss input")
	}
	in.Period = parsePeriod(grain, ord)
	var err error
	if in.Exposure, err = parseDecimal(exposure); err != nil {
		return in, err
	}
	in.LossRatio, err = parseDecimal(ratio)
	return in, err
}

// --- Balances ---

func (s *SQLiteStore) SetFundedBalance(ctx context.Context, category string, period model.Period, amount decimal.Decimal) error {
	return s.setBalance(ctx, "funded_balances", category, period, amount)
}

func (s *SQLiteStore) FundedBalance(ctx context.Context, category string, asOf model.Period) (decimal.Decimal, error) {
	return s.balance(ctx, "funded_balances", category, asOf)
}

func (s *SQLiteStore) SetCaseReserve(ctx context.Context, category string, period model.Period, amount decimal.Decimal) error {
	return s.setBalance(ctx, "case_reserves", category, period, amount)
}

func (s *SQLiteStore) CaseReserve(ctx context.Context, category string, asOf model.Period) (decimal.Decimal, error) {
	return s.balance(ctx, "case_reserves", category, asOf)
}

// table is always one of the two balance tables named above.
func (s *SQLiteStore) setBalance(ctx context.Context, table, category string, period model.Period, amount decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+table+` (category, grain, period_ord, amount) VALUES (?, ?, ?, ?)
		 ON CONFLICT(category, grain, period_ord) DO UPDATE SET amount = excluded.amount`,
		category, string(period.Grain), period.Ordinal, amount.String(),
	)
	return eris.Wrapf(err, "sqlite: set %s for %s %s", table, category, period)
}

func (s *SQLiteStore) balance(ctx context.Context, table, category string, asOf model.Period) (decimal.Decimal, error) {
	var amount string
	err := s.db.QueryRowContext(ctx,
		`SELECT amount FROM `+table+` WHERE category = ? AND grain = ? AND period_ord <= ?
		 ORDER BY period_ord DESC LIMIT 1`,
		category, string(asOf.Grain), asOf.Ordinal,
	).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "sqlite: read %s for %s", table, category)
	}
	return parseDecimal(amount)
}

// --- Runs ---

func (s *SQLiteStore) PriorEstimates(ctx context.Context, asOf model.Period) (map[string]decimal.Decimal, error) {
	committed := string(model.RunStatusCommitted)
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, point_estimate FROM (
		   SELECT e.category, e.point_estimate,
		          ROW_NUMBER() OVER (PARTITION BY e.category ORDER BY r.finished_at DESC, r.id DESC) AS rn
		   FROM reserve_estimates e JOIN reserve_runs r ON r.id = e.run_id
		   WHERE r.status = ? AND r.grain = ? AND r.as_of_ord = (
		     SELECT MAX(as_of_ord) FROM reserve_runs WHERE status = ? AND grain = ? AND as_of_ord < ?)
		 ) latest WHERE rn = 1`,
		committed, string(asOf.Grain), committed, string(asOf.Grain), asOf.Ordinal,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: prior estimates")
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var category, amount string
		if err := rows.Scan(&category, &amount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prior estimate")
		}
		d, err := parseDecimal(amount)
		if err != nil {
			return nil, err
		}
		out[category] = d
	}
	return out, eris.Wrap(rows.Err(), "sqlite: prior estimates iterate")
}

func (s *SQLiteStore) CommitRun(ctx context.Context, run *model.Run) error {
	summary, err := json.Marshal(summaryOf(run))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: commit run: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO reserve_runs (id, grain, as_of_ord, snapshot_at, status, fingerprint, summary, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.AsOf.Grain), run.AsOf.Ordinal, formatTime(run.SnapshotAt), string(model.RunStatusCommitted),
		run.Fingerprint, string(summary), "", formatTime(run.StartedAt), formatTime(run.FinishedAt),
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert run %s", run.ID)
	}

	for _, est := range run.Estimates {
		detail, err := json.Marshal(est)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal estimate")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reserve_estimates (run_id, category, method, point_estimate, confidence, detail) VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, est.Category, string(est.Method), est.PointEstimate.String(), est.ConfidenceScore, string(detail),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert estimate %s", est.Category)
		}
	}

	for _, fs := range run.Funding {
		detail, err := json.Marshal(fs)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal funding status")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO funding_status (run_id, category, status, detail) VALUES (?, ?, ?, ?)`,
			run.ID, fs.Category, string(fs.Status), string(detail),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert funding status %s", fs.Category)
		}
	}

	for _, tri := range run.Triangles {
		data, err := json.Marshal(tri)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal triangle")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO loss_triangles (run_id, category, data) VALUES (?, ?, ?)`,
			run.ID, tri.Category, string(data),
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert triangle %s", tri.Category)
		}
	}

	return eris.Wrapf(tx.Commit(), "sqlite: commit run %s", run.ID)
}

func (s *SQLiteStore) RecordFailedRun(ctx context.Context, run *model.Run) error {
	summary, err := json.Marshal(runSummary{Warnings: run.Warnings, Excluded: run.Excluded})
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run summary")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reserve_runs (id, grain, as_of_ord, snapshot_at, status, fingerprint, summary, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, '', ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET status = excluded.status, error = excluded.error, finished_at = excluded.finished_at
		 WHERE reserve_runs.status <> 'committed'`,
		run.ID, string(run.AsOf.Grain), run.AsOf.Ordinal, formatTime(run.SnapshotAt), string(model.RunStatusFailed),
		string(summary), run.Error, formatTime(run.StartedAt), formatTime(run.FinishedAt),
	)
	return eris.Wrapf(err, "sqlite: record failed run %s", run.ID)
}

// committedAsOf resolves the period a result read refers to: asOf itself
// when a committed run exists for it, or the newest committed period when
// asOf is zero.
func (s *SQLiteStore) committedAsOf(ctx context.Context, asOf model.Period) (model.Period, error) {
	query := `SELECT grain, as_of_ord FROM reserve_runs WHERE status = ?`
	args := []any{string(model.RunStatusCommitted)}
	if !asOf.IsZero() {
		query += ` AND grain = ? AND as_of_ord = ?`
		args = append(args, string(asOf.Grain), asOf.Ordinal)
	}
	query += ` ORDER BY as_of_ord DESC, finished_at DESC LIMIT 1`

	var (
		grain string
		ord   int
	)
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&grain, &ord)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Period{}, ErrNoCommittedRun
	}
	if err != nil {
		return model.Period{}, eris.Wrap(err, "sqlite: latest committed period")
	}
	return model.Period{Grain: model.Grain(grain), Ordinal: ord}, nil
}

// latestDetails returns the detail column of table for asOf, one row per
// category taken from the newest committed run that covered it. A run
// restricted to some categories therefore replaces only those.
func (s *SQLiteStore) latestDetails(ctx context.Context, table string, asOf model.Period, category string, fn func([]byte) error) error {
	query := `SELECT detail FROM (
		SELECT x.category, x.detail,
		       ROW_NUMBER() OVER (PARTITION BY x.category ORDER BY r.finished_at DESC, r.id DESC) AS rn
		FROM ` + table + ` x JOIN reserve_runs r ON r.id = x.run_id
		WHERE r.status = ? AND r.grain = ? AND r.as_of_ord = ?`
	args := []any{string(model.RunStatusCommitted), string(asOf.Grain), asOf.Ordinal}
	if category != "" {
		query += ` AND x.category = ?`
		args = append(args, category)
	}
	query += `) latest WHERE rn = 1 ORDER BY category`
	return s.eachJSON(ctx, query, args, fn)
}

func (s *SQLiteStore) GetReserveEstimates(ctx context.Context, asOf model.Period, category string) ([]model.ReserveEstimate, error) {
	period, err := s.committedAsOf(ctx, asOf)
	if err != nil {
		return nil, err
	}
	var out []model.ReserveEstimate
	err = s.latestDetails(ctx, "reserve_estimates", period, category, func(b []byte) error {
		var est model.ReserveEstimate
		if err := json.Unmarshal(b, &est); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal estimate")
		}
		out = append(out, est)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) estimatesForRun(ctx context.Context, runID string) ([]model.ReserveEstimate, error) {
	var out []model.ReserveEstimate
	err := s.eachJSON(ctx, `SELECT detail FROM reserve_estimates WHERE run_id = ? ORDER BY category`, []any{runID},
		func(b []byte) error {
			var est model.ReserveEstimate
			if err := json.Unmarshal(b, &est); err != nil {
				return eris.Wrap(err, "sqlite: unmarshal estimate")
			}
			out = append(out, est)
			return nil
		})
	return out, err
}

func (s *SQLiteStore) GetFundingStatus(ctx context.Context, asOf model.Period, category string) ([]model.FundingStatus, error) {
	period, err := s.committedAsOf(ctx, asOf)
	if err != nil {
		return nil, err
	}
	var out []model.FundingStatus
	err = s.latestDetails(ctx, "funding_status", period, category, func(b []byte) error {
		var fs model.FundingStatus
		if err := json.Unmarshal(b, &fs); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal funding status")
		}
		out = append(out, fs)
		return nil
	})
	return out, err
}

func (s *SQLiteStore) fundingForRun(ctx context.Context, runID string) ([]model.FundingStatus, error) {
	var out []model.FundingStatus
	err := s.eachJSON(ctx, `SELECT detail FROM funding_status WHERE run_id = ? ORDER BY category`, []any{runID},
		func(b []byte) error {
			var fs model.FundingStatus
			if err := json.Unmarshal(b, &fs); err != nil {
				return eris.Wrap(err, "sqlite: unmarshal funding status")
			}
			out = append(out, fs)
			return nil
		})
	return out, err
}

func (s *SQLiteStore) GetTriangle(ctx context.Context, category string) (*model.LossTriangle, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT t.data FROM loss_triangles t JOIN reserve_runs r ON r.id = t.run_id
		 WHERE t.category = ? AND r.status = ?
		 ORDER BY r.as_of_ord DESC, r.finished_at DESC LIMIT 1`,
		category, string(model.RunStatusCommitted),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get triangle %s", category)
	}
	tri := &model.LossTriangle{}
	if err := json.Unmarshal([]byte(data), tri); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal triangle")
	}
	return tri, nil
}

const sqliteRunColumns = `id, grain, as_of_ord, snapshot_at, status, fingerprint, summary, error, started_at, finished_at`

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteRunColumns+` FROM reserve_runs WHERE id = ?`, runID)
	run, err := scanSQLiteRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if run.Estimates, err = s.estimatesForRun(ctx, runID); err != nil {
		return nil, err
	}
	if run.Funding, err = s.fundingForRun(ctx, runID); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT ` + sqliteRunColumns + ` FROM reserve_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.AsOf.IsZero() {
		query += ` AND grain = ? AND as_of_ord = ?`
		args = append(args, string(filter.AsOf.Grain), filter.AsOf.Ordinal)
	}
	if !filter.StartedAfter.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, formatTime(filter.StartedAfter))
	}
	query += ` ORDER BY started_at DESC, id`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteRun(row scannable) (*model.Run, error) {
	var r model.Run
	var grain, snapshot, summary, started, finished string
	var ord int
	err := row.Scan(&r.ID, &grain, &ord, &snapshot, &r.Status, &r.Fingerprint, &summary, &r.Error, &started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}
	r.AsOf = parsePeriod(grain, ord)

	var sum runSummary
	if err := json.Unmarshal([]byte(summary), &sum); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run summary")
	}
	sum.apply(&r)

	for _, f := range []struct {
		src string
		dst *time.Time
	}{{snapshot, &r.SnapshotAt}, {started, &r.StartedAt}, {finished, &r.FinishedAt}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return nil, err
		}
	}
	return &r, nil
}

func (s *SQLiteStore) eachJSON(ctx context.Context, query string, args []any, fn func([]byte) error) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return eris.Wrap(err, "sqlite: query")
	}
	defer rows.Close()
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return eris.Wrap(err, "sqlite: scan json")
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "sqlite: iterate")
}
