// Package jobs runs recalculations as Temporal workflows so API callers can
// enqueue a run and poll for its result.
package jobs

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/ibnr-engine/internal/reserve"
)

// RecalculateWorkflowName is the registered workflow type.
const RecalculateWorkflowName = "RecalculateReserves"

// Error types the activity marks non-retryable. Retrying them cannot change
// the outcome until the ledger or the assumptions change.
const (
	ErrTypeNoEstimates   = "NoEstimatesError"
	ErrTypeConfiguration = "ConfigurationError"
	ErrTypeInvalidInput  = "InvalidInput"
)

// RecalculateOutput summarizes a finished run for the workflow caller.
type RecalculateOutput struct {
	RunID       string `json:"run_id"`
	AsOf        string `json:"as_of"`
	Status      string `json:"status"`
	Fingerprint string `json:"fingerprint,omitempty"`
	TotalIBNR   string `json:"total_ibnr"`
	Estimates   int    `json:"estimates"`
	Excluded    int    `json:"excluded"`
	Attempts    int    `json:"attempts"`
	AlertsSent  int    `json:"alerts_sent"`
}

// RecalculateWorkflow runs one recalculation. The snapshot time is pinned
// from workflow time when the request leaves it empty, so activity retries
// read the same ledger view.
func RecalculateWorkflow(ctx workflow.Context, req reserve.RunRequest) (*RecalculateOutput, error) {
	log := workflow.GetLogger(ctx)

	if req.SnapshotAt.IsZero() {
		req.SnapshotAt = workflow.Now(ctx).UTC()
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        10 * time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        5 * time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeNoEstimates, ErrTypeConfiguration, ErrTypeInvalidInput},
		},
	})

	var a *Activities
	var out RecalculateOutput
	if err := workflow.ExecuteActivity(ctx, a.Recalculate, req).Get(ctx, &out); err != nil {
		log.Error("recalculate activity failed", "as_of", req.AsOf.String(), "error", err)
		return nil, err
	}

	log.Info("recalculate complete", "run_id", out.RunID, "status", out.Status, "total_ibnr", out.TotalIBNR)
	return &out, nil
}
