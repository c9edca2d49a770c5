package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ibnr-engine/internal/config"
	"github.com/sells-group/ibnr-engine/internal/model"
	"github.com/sells-group/ibnr-engine/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailed        AlertType = "run_failed"
	AlertFundingCritical  AlertType = "funding_critical"
	AlertLowConfidence    AlertType = "low_confidence"
	AlertCategoryExcluded AlertType = "category_excluded"
	AlertRunFailureRate   AlertType = "run_failure_rate"
	AlertStaleReserves    AlertType = "stale_reserves"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns run outcomes and health snapshots into alerts and delivers
// them via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("monitoring", "webhook")
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  retry,
	}
}

// EvaluateRun returns the alerts raised by a single reserving run: a failed
// run, categories funded below the critical threshold, estimates below the
// minimum confidence and categories left out of the totals.
func (a *Alerter) EvaluateRun(run *model.Run) []Alert {
	if run == nil {
		return nil
	}
	var alerts []Alert
	now := time.Now().UTC()

	if run.Status == model.RunStatusFailed {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailed,
			Severity: "high",
			Message:  fmt.Sprintf("Reserve run %s for %s failed: %s", run.ID, run.AsOf, run.Error),
			Details: map[string]any{
				"run_id": run.ID,
				"as_of":  run.AsOf.String(),
			},
			Timestamp: now,
		})
		return alerts
	}

	for _, fs := range run.Funding {
		if fs.Status != model.FundingCritical {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertFundingCritical,
			Severity: "high",
			Message: fmt.Sprintf("%s is critically underfunded for %s: funded %s vs required %s",
				fs.Category, run.AsOf, fs.FundedAmount.StringFixed(2), fs.RequiredAmount.StringFixed(2)),
			Details: map[string]any{
				"run_id":   run.ID,
				"category": fs.Category,
				"variance": fs.Variance.StringFixed(2),
				"ratio":    fs.FundingRatio.Decimal.String(),
			},
			Timestamp: now,
		})
	}

	if a.cfg.MinConfidence > 0 {
		for _, est := range run.Estimates {
			if est.ConfidenceScore >= a.cfg.MinConfidence {
				continue
			}
			alerts = append(alerts, Alert{
				Type:     AlertLowConfidence,
				Severity: "medium",
				Message: fmt.Sprintf("%s estimate for %s has confidence %d (minimum %d)",
					est.Category, run.AsOf, est.ConfidenceScore, a.cfg.MinConfidence),
				Details: map[string]any{
					"run_id":     run.ID,
					"category":   est.Category,
					"method":     string(est.Method),
					"confidence": est.ConfidenceScore,
				},
				Timestamp: now,
			})
		}
	}

	for _, ex := range run.Excluded {
		alerts = append(alerts, Alert{
			Type:     AlertCategoryExcluded,
			Severity: "medium",
			Message:  fmt.Sprintf("%s excluded from %s reserves: %s", ex.Category, run.AsOf, ex.Message),
			Details: map[string]any{
				"run_id":   run.ID,
				"category": ex.Category,
				"reason":   string(ex.Reason),
			},
			Timestamp: now,
		})
	}

	return alerts
}

// Evaluate checks a health snapshot against thresholds.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.RunsCommitted + snap.RunsFailed
	if finished >= 3 && snap.FailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Reserve run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleAfterHours > 0 {
		limit := time.Duration(a.cfg.StaleAfterHours) * time.Hour
		if snap.LastCommittedAt.IsZero() || now.Sub(snap.LastCommittedAt) > limit {
			msg := "No reserve run has ever been committed"
			if !snap.LastCommittedAt.IsZero() {
				msg = fmt.Sprintf("Last committed reserve run (%s) finished %s ago",
					snap.LastCommittedAsOf, now.Sub(snap.LastCommittedAt).Round(time.Hour))
			}
			alerts = append(alerts, Alert{
				Type:     AlertStaleReserves,
				Severity: "medium",
				Message:  msg,
				Details: map[string]any{
					"stale_after_hours": a.cfg.StaleAfterHours,
				},
				Timestamp: now,
			})
		}
	}

	return alerts
}

// NotifyRun evaluates run and sends the resulting alerts.
func (a *Alerter) NotifyRun(ctx context.Context, run *model.Run) int {
	return a.SendAlerts(ctx, a.EvaluateRun(run))
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL. 429 and 5xx responses
// come back as transient errors so SendAlerts retries them.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		err := eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
