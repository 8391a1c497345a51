package temporal

import (
	"context"
	"fmt"
	"log/slog"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/brojonat/mintpass/service/controller"
)

// workflowClient is the part of client.Client used to start and read workflows.
type workflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	GetWorkflow(ctx context.Context, workflowID string, runID string) client.WorkflowRun
	Close()
}

// Client starts RecordMintWorkflow runs. It implements controller.MintRecorder.
type Client struct {
	client    workflowClient
	taskQueue string
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	logger.Info("connected to temporal successfully")

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		logger:    logger,
	}, nil
}

// RecordMint starts the workflow that stores and announces a confirmed mint.
// The workflow ID is derived from the request ID, so reporting the same mint
// twice starts at most one run.
func (c *Client) RecordMint(ctx context.Context, rec controller.MintRecord) error {
	input := RecordMintInput{
		RequestID:    rec.RequestID,
		OwnerAddress: rec.Owner,
		Network:      rec.Network,
		Signature:    rec.Signature,
		TokenMint:    rec.TokenMint,
		Amount:       int64(rec.Amount),
		Slot:         int64(rec.Slot),
		ConfirmedAt:  rec.ConfirmedAt,
	}
	if err := input.Validate(); err != nil {
		return fmt.Errorf("invalid mint record: %w", err)
	}

	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    workflowID(rec.RequestID),
		TaskQueue:             c.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, RecordMintWorkflow, input)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to start record mint workflow",
			"request_id", rec.RequestID,
			"error", err,
		)
		return fmt.Errorf("failed to start record mint workflow: %w", err)
	}

	c.logger.InfoContext(ctx, "started record mint workflow",
		"request_id", rec.RequestID,
		"workflow_id", run.GetID(),
		"run_id", run.GetRunID(),
	)
	return nil
}

// MintResult waits for the workflow of a request and returns its result.
func (c *Client) MintResult(ctx context.Context, requestID string) (*RecordMintResult, error) {
	var result RecordMintResult
	if err := c.client.GetWorkflow(ctx, workflowID(requestID), "").Get(ctx, &result); err != nil {
		return nil, fmt.Errorf("failed to get record mint workflow %s: %w", requestID, err)
	}
	return &result, nil
}

// TaskQueue returns the configured task queue for this client.
func (c *Client) TaskQueue() string {
	return c.taskQueue
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

func workflowID(requestID string) string {
	return "record-mint-" + requestID
}

var _ controller.MintRecorder = (*Client)(nil)
