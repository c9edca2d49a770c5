package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/ibnr-engine/internal/db"
	"github.com/sells-group/ibnr-engine/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgScanTransactions = `SELECT id, category, grain, origin_ord, txn_ord, amount::text, recorded_at FROM claim_transactions
		WHERE category = $1 AND grain = $2 AND txn_ord <= $3 AND recorded_at <= $4
		ORDER BY origin_ord, txn_ord, id`
	pgCommittedPeriod = `SELECT grain, as_of_ord FROM reserve_runs WHERE status = $1 AND grain = $2 AND as_of_ord = $3
		LIMIT 1`
	pgRunColumns = `id, grain, as_of_ord, snapshot_at, status, fingerprint, summary, error, started_at, finished_at`
)

// preparedStatements lists queries to prepare on each new connection. A
// recalculation issues the scan once per category and the API resolves the
// committed period on every read.
var preparedStatements = map[string]string{
	"scan_transactions": pgScanTransactions,
	"committed_period":  pgCommittedPeriod,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return eris.Wrap(db.Migrate(ctx, s.pool, migrationsFS, "migrations"), "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// numeric converts an amount to its exact NUMERIC representation.
func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// --- Claim ledger ---

func (s *PostgresStore) AppendTransactions(ctx context.Context, txs []model.ClaimTransaction) (int64, error) {
	rows := make([][]any, 0, len(txs))
	for _, t := range txs {
		if t.OriginPeriod.Grain != t.TransactionPeriod.Grain {
			return 0, eris.Errorf("postgres: transaction %s mixes %s and %s periods", t.ID, t.OriginPeriod.Grain, t.TransactionPeriod.Grain)
		}
		rows = append(rows, []any{
			t.ID, t.Category, string(t.OriginPeriod.Grain), t.OriginPeriod.Ordinal, t.TransactionPeriod.Ordinal,
			numeric(t.Amount), t.RecordedAt.UTC(),
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:           "claim_transactions",
		Columns:         []string{"id", "category", "grain", "origin_ord", "txn_ord", "amount", "recorded_at"},
		ConflictKeys:    []string{"id"},
		IgnoreConflicts: true,
	}, rows)
	return n, eris.Wrap(err, "postgres: append transactions")
}

func (s *PostgresStore) ScanTransactions(ctx context.Context, category string, asOf model.Period, snapshotAt time.Time, fn func(model.ClaimTransaction) error) error {
	rows, err := s.pool.Query(ctx, pgScanTransactions, category, string(asOf.Grain), asOf.Ordinal, snapshotAt.UTC())
	if err != nil {
		return eris.Wrapf(err, "postgres: scan transactions for %s", category)
	}
	defer rows.Close()

	for rows.Next() {
		var t model.ClaimTransaction
		var grain, amount string
		var origin, txn int
		if err := rows.Scan(&t.ID, &t.Category, &grain, &origin, &txn, &amount, &t.RecordedAt); err != nil {
			return eris.Wrap(err, "postgres: scan transaction")
		}
		t.OriginPeriod = parsePeriod(grain, origin)
		t.TransactionPeriod = parsePeriod(grain, txn)
		if t.Amount, err = parseDecimal(amount); err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "postgres: scan transactions iterate")
}

func (s *PostgresStore) ListTransactions(ctx context.Context, category string, asOf model.Period) ([]model.ClaimTransaction, error) {
	var out []model.ClaimTransaction
	err := s.ScanTransactions(ctx, category, asOf, time.Now(), func(t model.ClaimTransaction) error {
		out = append(out, t)
		return nil
	})
	return out, err
}

func (s *PostgresStore) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category FROM claim_transactions
		 UNION SELECT category FROM expected_loss_inputs
		 ORDER BY 1`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list categories")
	}
	defer rows.Close()

	var cats []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		cats = append(cats, c)
	}
	return cats, eris.Wrap(rows.Err(), "postgres: list categories iterate")
}

// --- Pricing assumptions ---

func (s *PostgresStore) UpsertExpectedLossInput(ctx context.Context, in model.ExpectedLossInput) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO expected_loss_inputs (category, grain, period_ord, exposure, loss_ratio, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 ON CONFLICT (category, grain, period_ord) DO UPDATE SET
		   exposure = EXCLUDED.exposure, loss_ratio = EXCLUDED.loss_ratio, updated_at = EXCLUDED.updated_at`,
		in.Category, string(in.Period.Grain), in.Period.Ordinal, numeric(in.Exposure), numeric(in.LossRatio),
	)
	return eris.Wrapf(err, "postgres: upsert expected loss input %s %s", in.Category, in.Period)
}

func (s *PostgresStore) ListExpectedLossInputs(ctx context.Context, category string, asOf model.Period) ([]model.ExpectedLossInput, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category, grain, period_ord, exposure::text, loss_ratio::text FROM expected_loss_inputs
		 WHERE category = $1 AND grain = $2 AND period_ord <= $3 ORDER BY period_ord`,
		category, string(asOf.Grain), asOf.Ordinal,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list expected loss inputs for %s", category)
	}
	defer rows.Close()

	var out []model.ExpectedLossInput
	for rows.Next() {
		in, err := scanPostgresInput(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list expected loss inputs iterate")
}

func (s *PostgresStore) GetExpectedLossInput(ctx context.Context, category string, period model.Period) (*model.ExpectedLossInput, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT category, grain, period_ord, exposure::text, loss_ratio::text FROM expected_loss_inputs
		 WHERE category = $1 AND grain = $2 AND period_ord = $3`,
		category, string(period.Grain), period.Ordinal,
	)
	in, err := scanPostgresInput(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func scanPostgresInput(row scannable) (model.ExpectedLossInput, error) {
	var in model.ExpectedLossInput
	var grain, exposure, ratio string
	var ord int
	if err := row.Scan(&in.Category, &grain, &ord, &exposure, &ratio); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return in, err
		}
		return in, eris.Wrap(err, "postgres: scan expected loss input")
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

func (s *PostgresStore) SetFundedBalance(ctx context.Context, category string, period model.Period, amount decimal.Decimal) error {
	return s.setBalance(ctx, "funded_balances", category, period, amount)
}

func (s *PostgresStore) FundedBalance(ctx context.Context, category string, asOf model.Period) (decimal.Decimal, error) {
	return s.balance(ctx, "funded_balances", category, asOf)
}

func (s *PostgresStore) SetCaseReserve(ctx context.Context, category string, period model.Period, amount decimal.Decimal) error {
	return s.setBalance(ctx, "case_reserves", category, period, amount)
}

func (s *PostgresStore) CaseReserve(ctx context.Context, category string, asOf model.Period) (decimal.Decimal, error) {
	return s.balance(ctx, "case_reserves", category, asOf)
}

// table is always one of the two balance tables named above.
func (s *PostgresStore) setBalance(ctx context.Context, table, category string, period model.Period, amount decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+table+` (category, grain, period_ord, amount) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (category, grain, period_ord) DO UPDATE SET amount = EXCLUDED.amount`,
		category, string(period.Grain), period.Ordinal, numeric(amount),
	)
	return eris.Wrapf(err, "postgres: set %s for %s %s", table, category, period)
}

func (s *PostgresStore) balance(ctx context.Context, table, category string, asOf model.Period) (decimal.Decimal, error) {
	var amount string
	err := s.pool.QueryRow(ctx,
		`SELECT amount::text FROM `+table+` WHERE category = $1 AND grain = $2 AND period_ord <= $3
		 ORDER BY period_ord DESC LIMIT 1`,
		category, string(asOf.Grain), asOf.Ordinal,
	).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, eris.Wrapf(err, "postgres: read %s for %s", table, category)
	}
	return parseDecimal(amount)
}

// --- Runs ---

func (s *PostgresStore) PriorEstimates(ctx context.Context, asOf model.Period) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT category, point_estimate FROM (
		   SELECT e.category, e.point_estimate::text AS point_estimate,
		          ROW_NUMBER() OVER (PARTITION BY e.category ORDER BY r.finished_at DESC, r.id DESC) AS rn
		   FROM reserve_estimates e JOIN reserve_runs r ON r.id = e.run_id
		   WHERE r.status = $1 AND r.grain = $2 AND r.as_of_ord = (
		     SELECT MAX(as_of_ord) FROM reserve_runs WHERE status = $1 AND grain = $2 AND as_of_ord < $3)
		 ) latest WHERE rn = 1`,
		string(model.RunStatusCommitted), string(asOf.Grain), asOf.Ordinal,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: prior estimates")
	}
	defer rows.Close()

	out := make(map[string]decimal.Decimal)
	for rows.Next() {
		var category, amount string
		if err := rows.Scan(&category, &amount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan prior estimate")
		}
		d, err := parseDecimal(amount)
		if err != nil {
			return nil, err
		}
		out[category] = d
	}
	return out, eris.Wrap(rows.Err(), "postgres: prior estimates iterate")
}

func (s *PostgresStore) CommitRun(ctx context.Context, run *model.Run) error {
	summary, err := json.Marshal(summaryOf(run))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: commit run: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO reserve_runs (`+pgRunColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, '', $8, $9)`,
		run.ID, string(run.AsOf.Grain), run.AsOf.Ordinal, run.SnapshotAt.UTC(), string(model.RunStatusCommitted),
		run.Fingerprint, string(summary), run.StartedAt.UTC(), run.FinishedAt.UTC(),
	); err != nil {
		return eris.Wrapf(err, "postgres: insert run %s", run.ID)
	}

	for _, est := range run.Estimates {
		detail, err := json.Marshal(est)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal estimate")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO reserve_estimates (run_id, category, method, point_estimate, confidence, detail) VALUES ($1, $2, $3, $4, $5, $6)`,
			run.ID, est.Category, string(est.Method), numeric(est.PointEstimate), est.ConfidenceScore, string(detail),
		); err != nil {
			return eris.Wrapf(err, "postgres: insert estimate %s", est.Category)
		}
	}

	for _, fs := range run.Funding {
		detail, err := json.Marshal(fs)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal funding status")
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO funding_status (run_id, category, status, detail) VALUES ($1, $2, $3, $4)`,
			run.ID, fs.Category, string(fs.Status), string(detail),
		); err != nil {
			return eris.Wrapf(err, "postgres: insert funding status %s", fs.Category)
		}
	}

	triRows := make([][]any, 0, len(run.Triangles))
	for _, tri := range run.Triangles {
		data, err := json.Marshal(tri)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal triangle")
		}
		triRows = append(triRows, []any{run.ID, tri.Category, string(data)})
	}
	if _, err := db.CopyFrom(ctx, tx, "loss_triangles", []string{"run_id", "category", "data"}, triRows); err != nil {
		return eris.Wrapf(err, "postgres: copy triangles for run %s", run.ID)
	}

	return eris.Wrapf(tx.Commit(ctx), "postgres: commit run %s", run.ID)
}

func (s *PostgresStore) RecordFailedRun(ctx context.Context, run *model.Run) error {
	summary, err := json.Marshal(runSummary{Warnings: run.Warnings, Excluded: run.Excluded})
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reserve_runs (`+pgRunColumns+`) VALUES ($1, $2, $3, $4, $5, '', $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, error = EXCLUDED.error, finished_at = EXCLUDED.finished_at
		 WHERE reserve_runs.status <> 'committed'`,
		run.ID, string(run.AsOf.Grain), run.AsOf.Ordinal, run.SnapshotAt.UTC(), string(model.RunStatusFailed),
		string(summary), run.Error, run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: record failed run %s", run.ID)
}

// committedAsOf resolves the period a result read refers to: asOf itself
// when a committed run exists for it, or the newest committed period when
// asOf is zero.
func (s *PostgresStore) committedAsOf(ctx context.Context, asOf model.Period) (model.Period, error) {
	var row pgx.Row
	if asOf.IsZero() {
		row = s.pool.QueryRow(ctx,
			`SELECT grain, as_of_ord FROM reserve_runs WHERE status = $1 ORDER BY as_of_ord DESC, finished_at DESC LIMIT 1`,
			string(model.RunStatusCommitted))
	} else {
		row = s.pool.QueryRow(ctx, pgCommittedPeriod, string(model.RunStatusCommitted), string(asOf.Grain), asOf.Ordinal)
	}

	var (
		grain string
		ord   int
	)
	err := row.Scan(&grain, &ord)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Period{}, ErrNoCommittedRun
	}
	if err != nil {
		return model.Period{}, eris.Wrap(err, "postgres: latest committed period")
	}
	return model.Period{Grain: model.Grain(grain), Ordinal: ord}, nil
}

func (s *PostgresStore) GetReserveEstimates(ctx context.Context, asOf model.Period, category string) ([]model.ReserveEstimate, error) {
	period, err := s.committedAsOf(ctx, asOf)
	if err != nil {
		return nil, err
	}
	var out []model.ReserveEstimate
	err = s.eachJSON(ctx, pgLatestDetails("reserve_estimates"),
		[]any{string(model.RunStatusCommitted), string(period.Grain), period.Ordinal, category},
		func(b []byte) error {
			var est model.ReserveEstimate
			if err := json.Unmarshal(b, &est); err != nil {
				return eris.Wrap(err, "postgres: unmarshal estimate")
			}
			out = append(out, est)
			return nil
		})
	return out, err
}

func (s *PostgresStore) estimatesForRun(ctx context.Context, runID string) ([]model.ReserveEstimate, error) {
	var out []model.ReserveEstimate
	err := s.eachJSON(ctx,
		`SELECT detail FROM reserve_estimates WHERE run_id = $1 ORDER BY category`,
		[]any{runID},
		func(b []byte) error {
			var est model.ReserveEstimate
			if err := json.Unmarshal(b, &est); err != nil {
				return eris.Wrap(err, "postgres: unmarshal estimate")
			}
			out = append(out, est)
			return nil
		})
	return out, err
}

func (s *PostgresStore) GetFundingStatus(ctx context.Context, asOf model.Period, category string) ([]model.FundingStatus, error) {
	period, err := s.committedAsOf(ctx, asOf)
	if err != nil {
		return nil, err
	}
	var out []model.FundingStatus
	err = s.eachJSON(ctx, pgLatestDetails("funding_status"),
		[]any{string(model.RunStatusCommitted), string(period.Grain), period.Ordinal, category},
		func(b []byte) error {
			var fs model.FundingStatus
			if err := json.Unmarshal(b, &fs); err != nil {
				return eris.Wrap(err, "postgres: unmarshal funding status")
			}
			out = append(out, fs)
			return nil
		})
	return out, err
}

func (s *PostgresStore) fundingForRun(ctx context.Context, runID string) ([]model.FundingStatus, error) {
	var out []model.FundingStatus
	err := s.eachJSON(ctx,
		`SELECT detail FROM funding_status WHERE run_id = $1 ORDER BY category`,
		[]any{runID},
		func(b []byte) error {
			var fs model.FundingStatus
			if err := json.Unmarshal(b, &fs); err != nil {
				return eris.Wrap(err, "postgres: unmarshal funding status")
			}
			out = append(out, fs)
			return nil
		})
	return out, err
}

// pgLatestDetails selects table's detail for one period, one row per
// category from the newest committed run that covered it. A run restricted
// to some categories therefore replaces only those.
func pgLatestDetails(table string) string {
	return `SELECT detail FROM (
		SELECT x.category, x.detail,
		       ROW_NUMBER() OVER (PARTITION BY x.category ORDER BY r.finished_at DESC, r.id DESC) AS rn
		FROM ` + table + ` x JOIN reserve_runs r ON r.id = x.run_id
		WHERE r.status = $1 AND r.grain = $2 AND r.as_of_ord = $3 AND ($4 = '' OR x.category = $4)
	) latest WHERE rn = 1 ORDER BY category`
}

func (s *PostgresStore) GetTriangle(ctx context.Context, category string) (*model.LossTriangle, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT t.data FROM loss_triangles t JOIN reserve_runs r ON r.id = t.run_id
		 WHERE t.category = $1 AND r.status = $2
		 ORDER BY r.as_of_ord DESC, r.finished_at DESC LIMIT 1`,
		category, string(model.RunStatusCommitted),
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get triangle %s", category)
	}
	tri := &model.LossTriangle{}
	if err := json.Unmarshal(data, tri); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal triangle")
	}
	return tri, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgRunColumns+` FROM reserve_runs WHERE id = $1`, runID)
	run, err := scanPostgresRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if run.Estimates, err = s.estimatesForRun(ctx, runID); err != nil {
		return nil, err
	}
	if run.Funding, err = s.fundingForRun(ctx, runID); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgRunColumns+` FROM reserve_runs
		 WHERE ($1 = '' OR status = $1) AND ($2 = '' OR (grain = $2 AND as_of_ord = $3)) AND started_at >= $4
		 ORDER BY started_at DESC, id LIMIT $5 OFFSET $6`,
		string(filter.Status), string(filter.AsOf.Grain), filter.AsOf.Ordinal, filter.StartedAfter.UTC(), limit, max(filter.Offset, 0),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list runs")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPostgresRun(row scannable) (*model.Run, error) {
	var r model.Run
	var grain, status string
	var summary []byte
	var ord int
	if err := row.Scan(&r.ID, &grain, &ord, &r.SnapshotAt, &status, &r.Fingerprint, &summary, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	r.AsOf = parsePeriod(grain, ord)
	r.Status = model.RunStatus(status)

	var sum runSummary
	if err := json.Unmarshal(summary, &sum); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run summary")
	}
	sum.apply(&r)
	return &r, nil
}

func (s *PostgresStore) eachJSON(ctx context.Context, query string, args []any, fn func([]byte) error) error {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return eris.Wrap(err, "postgres: query")
	}
	defer rows.Close()
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return eris.Wrap(err, "postgres: scan json")
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return eris.Wrap(rows.Err(), "postgres: iterate")
}
