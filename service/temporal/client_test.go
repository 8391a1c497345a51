package temporal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"github.com/brojonat/mintpass/service/controller"
)

// fakeRun overrides the identifiers of a workflow run.
type fakeRun struct {
	client.WorkflowRun
	id string
}

func (r fakeRun) GetID() string    { return r.id }
func (r fakeRun) GetRunID() string { return "run-1" }

type fakeWorkflowClient struct {
	options client.StartWorkflowOptions
	args    []interface{}
	err     error
	closed  bool
}

func (f *fakeWorkflowClient) ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error) {
	f.options = options
	f.args = args
	if f.err != nil {
		return nil, f.err
	}
	return fakeRun{id: options.ID}, nil
}

func (f *fakeWorkflowClient) GetWorkflow(ctx context.Context, workflowID string, runID string) client.WorkflowRun {
	return fakeRun{id: workflowID}
}

func (f *fakeWorkflowClient) Close() { f.closed = true }

func TestClient_RecordMint(t *testing.T) {
	fake := &fakeWorkflowClient{}
	c := &Client{client: fake, taskQueue: "mintpass-mints", logger: discardLogger()}

	rec := controller.MintRecord{
		RequestID:   "req-1",
		Owner:       "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		Signature:   "sig",
		Network:     "devnet",
		TokenMint:   "mint",
		Amount:      10_000_000,
		Slot:        7,
		ConfirmedAt: time.Now().UTC(),
	}
	require.NoError(t, c.RecordMint(context.Background(), rec))

	assert.Equal(t, "record-mint-req-1", fake.options.ID)
	assert.Equal(t, "mintpass-mints", fake.options.TaskQueue)
	assert.Equal(t, enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE, fake.options.WorkflowIDReusePolicy)
	require.Len(t, fake.args, 1)
	input := fake.args[0].(RecordMintInput)
	assert.Equal(t, rec.Owner, input.OwnerAddress)
	assert.Equal(t, int64(10_000_000), input.Amount)
	assert.Equal(t, int64(7), input.Slot)

	c.Close()
	assert.True(t, fake.closed)
}

func TestClient_RecordMintInvalid(t *testing.T) {
	fake := &fakeWorkflowClient{}
	c := &Client{client: fake, taskQueue: "q", logger: discardLogger()}

	err := c.RecordMint(context.Background(), controller.MintRecord{RequestID: "req-1"})
	assert.Error(t, err)
	assert.Empty(t, fake.options.ID, "invalid records never start a workflow")
}

func TestClient_RecordMintStartError(t *testing.T) {
	fake := &fakeWorkflowClient{err: errors.New("unavailable")}
	c := &Client{client: fake, taskQueue: "q", logger: discardLogger()}

	err := c.RecordMint(context.Background(), controller.MintRecord{
		RequestID: "req-1", Owner: "o", Signature: "s", Amount: 1,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unavailable")
}
