package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ibnr-engine/internal/config"
	"github.com/sells-group/ibnr-engine/internal/model"
)

func noop(context.Context, model.Period) error { return nil }

func TestNew_InvalidCron(t *testing.T) {
	_, err := New(config.ScheduleConfig{Cron: "not a cron"}, model.GrainMonth, noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse cron")
}

func TestNew_InvalidTimezone(t *testing.T) {
	_, err := New(config.ScheduleConfig{Cron: "0 6 2 * *", Timezone: "Mars/Olympus"}, model.GrainMonth, noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load timezone")
}

func TestNew_NegativeCloseLag(t *testing.T) {
	_, err := New(config.ScheduleConfig{Cron: "0 6 2 * *", CloseLag: -1}, model.GrainMonth, noop)
	require.Error(t, err)
}

func TestAsOfFor(t *testing.T) {
	tests := []struct {
		name  string
		grain model.Grain
		lag   int
		tz    string
		at    time.Time
		want  string
	}{
		{"month lag 1", model.GrainMonth, 1, "UTC", time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC), "2024-03"},
		{"month lag 0", model.GrainMonth, 0, "UTC", time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC), "2024-04"},
		{"january wraps year", model.GrainMonth, 1, "UTC", time.Date(2024, 1, 2, 6, 0, 0, 0, time.UTC), "2023-12"},
		{"quarter lag 1", model.GrainQuarter, 1, "UTC", time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC), "2024-Q1"},
		{"timezone shifts month", model.GrainMonth, 1, "America/Chicago", time.Date(2024, 4, 1, 3, 0, 0, 0, time.UTC), "2024-02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(config.ScheduleConfig{Cron: "0 6 2 * *", CloseLag: tt.lag, Timezone: tt.tz}, tt.grain, noop)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.AsOfFor(tt.at).String())
		})
	}
}

func TestRunNow(t *testing.T) {
	var got model.Period
	s, err := New(config.ScheduleConfig{Cron: "0 6 2 * *", CloseLag: 1}, model.GrainMonth, func(_ context.Context, asOf model.Period) error {
		got = asOf
		return nil
	})
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2024, 4, 2, 6, 0, 0, 0, time.UTC) }

	require.NoError(t, s.RunNow(context.Background()))
	assert.Equal(t, "2024-03", got.String())
}

func TestRunNow_Error(t *testing.T) {
	s, err := New(config.ScheduleConfig{Cron: "0 6 2 * *", CloseLag: 1}, model.GrainMonth, func(context.Context, model.Period) error {
		return errors.New("store unavailable")
	})
	require.NoError(t, err)

	err = s.RunNow(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
}

func TestStartFiresAndStops(t *testing.T) {
	fired := make(chan model.Period, 1)
	s, err := New(config.ScheduleConfig{Cron: "@every 1s", CloseLag: 1}, model.GrainMonth, func(_ context.Context, asOf model.Period) error {
		select {
		case fired <- asOf:
		default:
		}
		return nil
	})
	require.NoError(t, err)

	s.Start(context.Background())
	assert.False(t, s.Next().IsZero())

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled run did not fire")
	}
	s.Stop()
}
