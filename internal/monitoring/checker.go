package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ibnr-engine/internal/config"
)

const defaultSweepInterval = 5 * time.Minute

// Checker sweeps the run history on an interval and raises stale-reserve
// and failure-rate alerts.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// SweepResult is the outcome of one health sweep.
type SweepResult struct {
	Snapshot *MetricsSnapshot
	Alerts   []Alert
	Sent     int
}

// NewChecker returns a Checker that reads run history through collector and
// delivers through alerter.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{collector: collector, alerter: alerter, cfg: cfg}
}

// Interval is the configured sweep interval, or five minutes when unset.
func (c *Checker) Interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return defaultSweepInterval
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

// Run sweeps once immediately and then on every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	interval := c.Interval()
	log := zap.L().With(zap.String("component", "monitoring.reserve_health"))
	log.Info("reserve health sweeps started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Int("stale_after_hours", c.cfg.StaleAfterHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			log.Info("reserve health sweeps stopped")
			return
		}
		res, err := c.Check(ctx)
		switch {
		case err != nil:
			log.Error("reserve health sweep failed", zap.Error(err))
		case len(res.Alerts) > 0:
			log.Warn("reserve health degraded",
				zap.String("last_committed_as_of", res.Snapshot.LastCommittedAsOf.String()),
				zap.Time("last_committed_at", res.Snapshot.LastCommittedAt),
				zap.Float64("fail_rate", res.Snapshot.FailRate),
				zap.Int("alerts", len(res.Alerts)),
				zap.Int("sent", res.Sent),
			)
		default:
			log.Debug("reserve health ok", zap.String("last_committed_as_of", res.Snapshot.LastCommittedAsOf.String()))
		}

		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
	}
}

// Check collects one snapshot, evaluates it and sends any alerts.
func (c *Checker) Check(ctx context.Context) (*SweepResult, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: reserve health sweep")
	}
	res := &SweepResult{Snapshot: snap, Alerts: c.alerter.Evaluate(snap)}
	res.Sent = c.alerter.SendAlerts(ctx, res.Alerts)
	return res, nil
}
