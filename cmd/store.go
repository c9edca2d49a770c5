package main

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ibnr-engine/internal/model"
	"github.com/sells-group/ibnr-engine/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "ibnr.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens the configured store and applies pending migrations.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func configuredGrain() model.Grain {
	if cfg.Reserving.Grain == "" {
		return model.GrainMonth
	}
	return model.Grain(cfg.Reserving.Grain)
}

// parseAsOf parses an --as-of value. Empty means the period closed most
// recently: the current period in the schedule's timezone minus close_lag.
func parseAsOf(raw string, now time.Time) (model.Period, error) {
	if raw != "" {
		p, err := model.ParsePeriod(raw)
		if err != nil {
			return model.Period{}, err
		}
		return p, nil
	}
	loc := time.UTC
	if cfg.Schedule.Timezone != "" {
		l, err := time.LoadLocation(cfg.Schedule.Timezone)
		if err != nil {
			return model.Period{}, eris.Wrapf(err, "load timezone %s", cfg.Schedule.Timezone)
		}
		loc = l
	}
	return model.PeriodOf(configuredGrain(), now.In(loc)).Add(-cfg.Schedule.CloseLag), nil
}

// parseSnapshot parses a --snapshot timestamp. Empty means the run start.
func parseSnapshot(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("invalid snapshot %q (want RFC 3339 or YYYY-MM-DD)", raw)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
