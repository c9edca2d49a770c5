package jobs

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sells-group/ibnr-engine/internal/estimate"
	"github.com/sells-group/ibnr-engine/internal/model"
	"github.com/sells-group/ibnr-engine/internal/reserve"
)

// Recalculator is the engine entry point the activity drives.
type Recalculator interface {
	Recalculate(ctx context.Context, req reserve.RunRequest) (*reserve.RunResult, error)
}

// Notifier delivers alerts for a finished run.
type Notifier interface {
	NotifyRun(ctx context.Context, run *model.Run) int
}

// Activities holds the dependencies of the recalculation activity.
type Activities struct {
	engine   Recalculator
	notifier Notifier
}

// NewActivities wires the activity to an engine and an optional notifier.
func NewActivities(engine Recalculator, notifier Notifier) *Activities {
	return &Activities{engine: engine, notifier: notifier}
}

// Recalculate runs the engine and reports the outcome. Failures retrying
// cannot fix come back as non-retryable application errors.
func (a *Activities) Recalculate(ctx context.Context, req reserve.RunRequest) (*RecalculateOutput, error) {
	log := zap.L().With(
		zap.String("component", "jobs.recalculate"),
		zap.String("as_of", req.AsOf.String()),
		zap.Int32("attempt", activity.GetInfo(ctx).Attempt),
	)
	activity.RecordHeartbeat(ctx, "started")

	res, err := a.engine.Recalculate(ctx, req)

	var out *RecalculateOutput
	if res != nil && res.Run != nil {
		out = summarize(res)
		if a.notifier != nil {
			out.AlertsSent = a.notifier.NotifyRun(ctx, res.Run)
		}
	}
	if err != nil {
		log.Error("recalculate failed", zap.Error(err))
		return out, classify(err)
	}

	log.Info("recalculate committed",
		zap.String("run_id", out.RunID),
		zap.String("total_ibnr", out.TotalIBNR),
		zap.Int("alerts_sent", out.AlertsSent),
	)
	return out, nil
}

func summarize(res *reserve.RunResult) *RecalculateOutput {
	run := res.Run
	return &RecalculateOutput{
		RunID:       run.ID,
		AsOf:        run.AsOf.String(),
		Status:      string(run.Status),
		Fingerprint: run.Fingerprint,
		TotalIBNR:   run.Totals.TotalIBNR.StringFixed(2),
		Estimates:   len(run.Estimates),
		Excluded:    len(run.Excluded),
		Attempts:    res.Attempts,
	}
}

func classify(err error) error {
	var noEst *reserve.NoEstimatesError
	var cfgErr *estimate.ConfigurationError
	switch {
	case errors.As(err, &noEst):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeNoEstimates, err)
	case errors.As(err, &cfgErr):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeConfiguration, err)
	case errors.Is(err, reserve.ErrInvalidRequest):
		return temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidInput, err)
	default:
		return err
	}
}
