package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ibnr-engine/internal/config"
	"github.com/sells-group/ibnr-engine/internal/model"
	"github.com/sells-group/ibnr-engine/internal/store"
)

func TestChecker_Check_StaleReservesAlertDelivered(t *testing.T) {
	var mu sync.Mutex
	var got []Alert
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a Alert
		_ = json.NewDecoder(r.Body).Decode(&a)
		mu.Lock()
		got = append(got, a)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{
		WebhookURL:           ts.URL,
		FailureRateThreshold: 0.5,
		LookbackWindowHours:  24,
		StaleAfterHours:      48,
	}
	st := &mockStore{runs: []model.Run{run("march-close", model.RunStatusCommitted, 96*time.Hour)}}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	res, err := checker.Check(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, AlertStaleReserves, res.Alerts[0].Type)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, "march-close", res.Snapshot.LastCommittedID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, AlertStaleReserves, got[0].Type)
}

func TestChecker_Check_RecentCommitIsHealthy(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.5, LookbackWindowHours: 24, StaleAfterHours: 48}
	st := &mockStore{runs: []model.Run{
		run("r1", model.RunStatusCommitted, time.Hour),
		run("r2", model.RunStatusFailed, 2*time.Hour),
		run("r3", model.RunStatusCommitted, 3*time.Hour),
	}}

	res, err := NewChecker(NewCollector(st), NewAlerter(cfg), cfg).Check(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
	assert.Zero(t, res.Sent)
	assert.Equal(t, 2, res.Snapshot.RunsCommitted)
}

func TestChecker_Check_FailingRecalculations(t *testing.T) {
	cfg := config.MonitoringConfig{FailureRateThreshold: 0.25, LookbackWindowHours: 24}
	st := &mockStore{runs: []model.Run{
		run("r1", model.RunStatusFailed, time.Hour),
		run("r2", model.RunStatusFailed, 2*time.Hour),
		run("r3", model.RunStatusCommitted, 3*time.Hour),
	}}

	res, err := NewChecker(NewCollector(st), NewAlerter(cfg), cfg).Check(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, AlertRunFailureRate, res.Alerts[0].Type)
	assert.Zero(t, res.Sent, "no webhook configured")
}

func TestChecker_Check_StoreError(t *testing.T) {
	cfg := config.MonitoringConfig{LookbackWindowHours: 24}
	st := &mockStore{listErr: errors.New("connection reset")}

	_, err := NewChecker(NewCollector(st), NewAlerter(cfg), cfg).Check(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserve health sweep")
}

func TestChecker_Interval(t *testing.T) {
	c := NewChecker(NewCollector(&mockStore{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, 5*time.Minute, c.Interval())

	c = NewChecker(NewCollector(&mockStore{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{CheckIntervalSecs: 30})
	assert.Equal(t, 30*time.Second, c.Interval())
}

func TestChecker_RunSweepsUntilCancelled(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 3600, LookbackWindowHours: 24}
	st := &countingStore{}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return st.calls() > 0 }, 5*time.Second, 10*time.Millisecond,
		"first sweep should not wait for the interval")
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
}

// countingStore counts ListRuns calls.
type countingStore struct {
	mockStore
	mu sync.Mutex
	n  int
}

func (c *countingStore) ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return c.mockStore.ListRuns(ctx, filter)
}

func (c *countingStore) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
