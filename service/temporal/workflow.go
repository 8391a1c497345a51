package temporal

import (
	"fmt"
	"time"

	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// RecordMintWorkflow durably records a confirmed mint payment and announces
// it on NATS.
//
// The workflow performs these steps:
// 1. Store the mint receipt (StoreMintReceipt activity)
// 2. Publish a mint event (PublishMintEvent activity)
//
// The receipt is the system of record, so a store failure fails the workflow.
// A publish failure is reported in the result but does not.
func RecordMintWorkflow(ctx workflow.Context, input RecordMintInput) (*RecordMintResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("RecordMintWorkflow started", "request_id", input.RequestID, "owner", input.OwnerAddress)

	result := &RecordMintResult{RequestID: input.RequestID}

	if err := input.Validate(); err != nil {
		return result, temporalsdk.NewNonRetryableApplicationError(err.Error(), "InvalidInput", err)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	})

	var stored *StoreMintReceiptResult
	if err := workflow.ExecuteActivity(ctx, a.StoreMintReceipt, input).Get(ctx, &stored); err != nil {
		logger.Error("failed to store mint receipt", "request_id", input.RequestID, "error", err)
		return result, fmt.Errorf("failed to store mint receipt: %w", err)
	}
	result.Stored = true
	result.CreatedAt = stored.Receipt.CreatedAt

	publishCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Second,
			MaximumAttempts:    3,
		},
	})
	if err := workflow.ExecuteActivity(publishCtx, a.PublishMintEvent, stored.Receipt).Get(ctx, nil); err != nil {
		logger.Warn("failed to publish mint event", "request_id", input.RequestID, "error", err)
		msg := err.Error()
		result.PublishError = &msg
	} else {
		result.Published = true
	}

	logger.Info("RecordMintWorkflow completed",
		"request_id", input.RequestID,
		"stored", result.Stored,
		"published", result.Published,
	)

	return result, nil
}
