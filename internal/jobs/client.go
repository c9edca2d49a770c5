package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/ibnr-engine/internal/config"
	"github.com/sells-group/ibnr-engine/internal/reserve"
)

// Enqueued identifies a started recalculation workflow.
type Enqueued struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// Client starts and inspects recalculation workflows.
type Client struct {
	c         client.Client
	taskQueue string
}

// Dial connects to the Temporal frontend in cfg.
func Dial(cfg config.TemporalConfig) (*Client, error) {
	if cfg.HostPort == "" {
		return nil, eris.New("jobs: temporal host_port is not configured")
	}
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    newLogger(),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "jobs: dial temporal %s", cfg.HostPort)
	}
	return NewClient(c, cfg.TaskQueue), nil
}

// NewClient wraps an existing Temporal client.
func NewClient(c client.Client, taskQueue string) *Client {
	return &Client{c: c, taskQueue: taskQueue}
}

// Temporal returns the underlying SDK client, for building workers.
func (c *Client) Temporal() client.Client {
	return c.c
}

// EnqueueRecalculate starts a recalculation workflow and returns without
// waiting for it.
func (c *Client) EnqueueRecalculate(ctx context.Context, req reserve.RunRequest) (*Enqueued, error) {
	opts := client.StartWorkflowOptions{
		ID:        fmt.Sprintf("recalculate-%s-%s", req.AsOf, uuid.NewString()),
		TaskQueue: c.taskQueue,
	}
	we, err := c.c.ExecuteWorkflow(ctx, opts, RecalculateWorkflowName, req)
	if err != nil {
		return nil, eris.Wrapf(err, "jobs: start recalculate workflow for %s", req.AsOf)
	}
	return &Enqueued{WorkflowID: we.GetID(), RunID: we.GetRunID()}, nil
}

// Result blocks until the workflow finishes and returns its output.
func (c *Client) Result(ctx context.Context, workflowID, runID string) (*RecalculateOutput, error) {
	var out RecalculateOutput
	if err := c.c.GetWorkflow(ctx, workflowID, runID).Get(ctx, &out); err != nil {
		return nil, eris.Wrapf(err, "jobs: workflow %s", workflowID)
	}
	return &out, nil
}

// Close releases the connection.
func (c *Client) Close() {
	c.c.Close()
}

// NewWorker builds a worker on the task queue with the recalculation
// workflow and activity registered.
func NewWorker(c client.Client, taskQueue string, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: 1,
	})
	Register(w, acts)
	return w
}

// Registry is the registration surface shared by workers and test
// environments.
type Registry interface {
	RegisterWorkflowWithOptions(w any, options workflow.RegisterOptions)
	RegisterActivity(a any)
}

// Register adds the workflow and activities to r.
func Register(r Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(RecalculateWorkflow, workflow.RegisterOptions{Name: RecalculateWorkflowName})
	r.RegisterActivity(acts)
}
