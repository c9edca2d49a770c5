package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ibnr-engine/internal/config"
	"github.com/sells-group/ibnr-engine/internal/model"
)

func fastAlerter(cfg config.MonitoringConfig) *Alerter {
	a := NewAlerter(cfg)
	a.retry.InitialBackoff = time.Millisecond
	a.retry.MaxBackoff = 2 * time.Millisecond
	return a
}

func committed() *model.Run {
	return &model.Run{
		ID:     "run-1",
		AsOf:   model.MustPeriod("2024-03"),
		Status: model.RunStatusCommitted,
		Estimates: []model.ReserveEstimate{
			{Category: "Medical", Method: model.MethodChainLadder, ConfidenceScore: 78},
			{Category: "Dental", Method: model.MethodExpectedLoss, ConfidenceScore: 50},
		},
		Funding: []model.FundingStatus{
			{
				Category:       "Medical",
				FundedAmount:   decimal.NewFromInt(110),
				RequiredAmount: decimal.NewFromInt(116),
				Variance:       decimal.NewFromInt(-6),
				Status:         model.FundingWarning,
			},
			{
				Category:       "Dental",
				FundedAmount:   decimal.NewFromInt(10),
				RequiredAmount: decimal.NewFromInt(30),
				Variance:       decimal.NewFromInt(-20),
				FundingRatio:   decimal.NewNullDecimal(decimal.RequireFromString("0.3333")),
				Status:         model.FundingCritical,
			},
		},
	}
}

func TestAlerter_EvaluateRun_Committed(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{MinConfidence: 60})

	alerts := a.EvaluateRun(committed())
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertFundingCritical, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "Dental is critically underfunded for 2024-03")
	assert.Contains(t, alerts[0].Message, "funded 10.00 vs required 30.00")
	assert.Equal(t, AlertLowConfidence, alerts[1].Type)
	assert.Equal(t, "medium", alerts[1].Severity)
	assert.Contains(t, alerts[1].Message, "confidence 50 (minimum 60)")
}

func TestAlerter_EvaluateRun_ConfidenceDisabled(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{MinConfidence: 0})

	alerts := a.EvaluateRun(committed())
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertFundingCritical, alerts[0].Type)
}

func TestAlerter_EvaluateRun_Failed(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{MinConfidence: 60})

	run := committed()
	run.Status = model.RunStatusFailed
	run.Error = "reserve: commit run: database is locked"

	alerts := a.EvaluateRun(run)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailed, alerts[0].Type)
	assert.Equal(t, "high", alerts[0].Severity)
	assert.Contains(t, alerts[0].Message, "database is locked")
}

func TestAlerter_EvaluateRun_Excluded(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{})

	run := &model.Run{
		ID:     "run-2",
		AsOf:   model.MustPeriod("2024-03"),
		Status: model.RunStatusCommitted,
		Excluded: []model.ExcludedCategory{
			{Category: "Vision", Reason: model.WarningInsufficientData, Message: "no claims and no expected loss input"},
		},
	}

	alerts := a.EvaluateRun(run)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCategoryExcluded, alerts[0].Type)
	assert.Equal(t, "insufficient_data", alerts[0].Details["reason"])
}

func TestAlerter_EvaluateRun_Nil(t *testing.T) {
	assert.Empty(t, NewAlerter(config.MonitoringConfig{}).EvaluateRun(nil))
}

func TestAlerter_Evaluate_NoAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{
		FailureRateThreshold: 0.25,
		StaleAfterHours:      24 * 40,
	})

	snap := &MetricsSnapshot{
		RunsTotal:       10,
		RunsCommitted:   9,
		RunsFailed:      1,
		FailRate:        0.1,
		LastCommittedAt: time.Now().Add(-48 * time.Hour),
		LookbackHours:   168,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_FailureRate(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.25})

	snap := &MetricsSnapshot{
		RunsTotal:     5,
		RunsCommitted: 3,
		RunsFailed:    2,
		FailRate:      0.4,
		LookbackHours: 168,
	}

	alerts := a.Evaluate(snap)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertRunFailureRate, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "40.0%")
}

func TestAlerter_Evaluate_MinimumRunsRequired(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{FailureRateThreshold: 0.10})

	// Two finished runs are below the minimum for a rate alert.
	snap := &MetricsSnapshot{
		RunsTotal:     2,
		RunsCommitted: 1,
		RunsFailed:    1,
		FailRate:      0.5,
		LookbackHours: 24,
	}

	assert.Empty(t, a.Evaluate(snap))
}

func TestAlerter_Evaluate_Stale(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{StaleAfterHours: 24})

	alerts := a.Evaluate(&MetricsSnapshot{})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertStaleReserves, alerts[0].Type)
	assert.Contains(t, alerts[0].Message, "never been committed")

	alerts = a.Evaluate(&MetricsSnapshot{
		LastCommittedAsOf: model.MustPeriod("2024-02"),
		LastCommittedAt:   time.Now().Add(-72 * time.Hour),
	})
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "(2024-02)")
}

func TestAlerter_SendAlerts_Webhook(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var alert Alert
		err := json.NewDecoder(r.Body).Decode(&alert)
		require.NoError(t, err)
		assert.NotEmpty(t, alert.Type)
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: ts.URL, MinConfidence: 60})

	sent := a.NotifyRun(context.Background(), committed())
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), received.Load())
}

func TestAlerter_SendAlerts_RetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailed, Message: "test"}})
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(2), calls.Load())
}

func TestAlerter_SendAlerts_PermanentError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	a := fastAlerter(config.MonitoringConfig{WebhookURL: ts.URL})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailed, Message: "test"}})
	assert.Equal(t, 0, sent)
	assert.Equal(t, int32(1), calls.Load())
}

func TestAlerter_SendAlerts_EmptyURL(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: ""})

	sent := a.SendAlerts(context.Background(), []Alert{{Type: AlertRunFailed, Message: "test"}})
	assert.Equal(t, 0, sent)
}

func TestAlerter_SendAlerts_EmptyAlerts(t *testing.T) {
	a := NewAlerter(config.MonitoringConfig{WebhookURL: "http://example.com"})

	sent := a.SendAlerts(context.Background(), nil)
	assert.Equal(t, 0, sent)
}
