package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/api/enums/v1"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap/zaptest"
)

type depositMsg struct {
	DepositID int64 `json:"depositId"`
}

func (m depositMsg) Key() string { return fmt.Sprintf("%d", m.DepositID) }

type started struct {
	opts  client.StartWorkflowOptions
	input StageInput
}

type fakeWorkflows struct {
	mu       sync.Mutex
	started  []started
	failOn   string
	pages    []*workflowservice.ListWorkflowExecutionsResponse
	queries  []string
	pageCall int
}

func (f *fakeWorkflows) ExecuteWorkflow(_ context.Context, opts client.StartWorkflowOptions, wf interface{}, args ...interface{}) (client.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if opts.ID == f.failOn {
		return nil, errors.New("unavailable")
	}
	if wf != StageWorkflowName {
		return nil, fmt.Errorf("unexpected workflow %v", wf)
	}
	f.started = append(f.started, started{opts: opts, input: args[0].(StageInput)})
	return nil, nil
}

func (f *fakeWorkflows) ListWorkflow(_ context.Context, req *workflowservice.ListWorkflowExecutionsRequest) (*workflowservice.ListWorkflowExecutionsResponse, error) {
	f.queries = append(f.queries, req.GetQuery())
	page := f.pages[f.pageCall]
	f.pageCall++
	return page, nil
}

func newOrchestrator(t *testing.T, wf *fakeWorkflows) *Orchestrator {
	o := NewOrchestrator(wf, "spokescan", NewRegistry(), 4, zaptest.NewLogger(t))
	t.Cleanup(o.Close)
	return o
}

func TestEnqueueUsesDedupPolicies(t *testing.T) {
	wf := &fakeWorkflows{}
	o := newOrchestrator(t, wf)

	require.NoError(t, o.Enqueue(context.Background(), QueueBlockNumber, depositMsg{DepositID: 42}))
	require.Len(t, wf.started, 1)

	s := wf.started[0]
	require.Equal(t, "BlockNumber:42", s.opts.ID)
	require.Equal(t, "spokescan:BlockNumber", s.opts.TaskQueue)
	require.Equal(t, enums.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING, s.opts.WorkflowIDConflictPolicy)
	require.Equal(t, enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE, s.opts.WorkflowIDReusePolicy)
	require.Equal(t, QueueBlockNumber, s.input.Queue)
	require.JSONEq(t, `{"depositId":42}`, string(s.input.Payload))
	require.Equal(t, `{"depositId":42}`, s.opts.Memo[memoPayload])
}

func TestEnqueueUnknownQueue(t *testing.T) {
	o := newOrchestrator(t, &fakeWorkflows{})
	require.Error(t, o.Enqueue(context.Background(), Queue("Nope"), depositMsg{DepositID: 1}))
}

func TestEnqueueBatchReportsFailures(t *testing.T) {
	wf := &fakeWorkflows{failOn: "TokenPrice:3"}
	o := newOrchestrator(t, wf)

	msgs := []Message{depositMsg{1}, depositMsg{2}, depositMsg{3}, depositMsg{4}}
	n, err := o.EnqueueBatch(context.Background(), QueueTokenPrice, msgs)
	require.Error(t, err)
	require.Equal(t, 3, n)
	require.Len(t, wf.started, 3)
}

func memo(t *testing.T, payload string) *commonpb.Memo {
	p, err := converter.GetDefaultDataConverter().ToPayload(payload)
	require.NoError(t, err)
	return &commonpb.Memo{Fields: map[string]*commonpb.Payload{memoPayload: p}}
}

func execution(t *testing.T, id, run, payload string) *workflowpb.WorkflowExecutionInfo {
	return &workflowpb.WorkflowExecutionInfo{
		Execution: &commonpb.WorkflowExecution{WorkflowId: id, RunId: run},
		Memo:      memo(t, payload),
	}
}

func TestRetryFailedReenqueuesFromMemo(t *testing.T) {
	wf := &fakeWorkflows{pages: []*workflowservice.ListWorkflowExecutionsResponse{
		{
			Executions: []*workflowpb.WorkflowExecutionInfo{
				execution(t, "FeeBreakdown:7", "r2", `{"depositId":7}`),
				execution(t, "FeeBreakdown:7", "r1", `{"depositId":7}`),
			},
			NextPageToken: []byte("next"),
		},
		{
			Executions: []*workflowpb.WorkflowExecutionInfo{
				execution(t, "FeeBreakdown:9", "r3", `{"depositId":9}`),
			},
		},
	}}
	o := newOrchestrator(t, wf)

	n, err := o.RetryFailed(context.Background(), QueueFeeBreakdown)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "TaskQueue = 'spokescan:FeeBreakdown' AND ExecutionStatus = 'Failed'", wf.queries[0])

	require.Equal(t, "FeeBreakdown:7", wf.started[0].opts.ID)
	require.Equal(t, "FeeBreakdown:9", wf.started[1].opts.ID)
	var msg depositMsg
	require.NoError(t, json.Unmarshal(wf.started[1].input.Payload, &msg))
	require.Equal(t, int64(9), msg.DepositID)
}

func TestRegistryPolicies(t *testing.T) {
	r := NewRegistry()
	for _, q := range []Queue{QueueFillEvents, QueueFillEvents2, QueueSpeedUpEvents, QueueRefundEvents} {
		spec, err := r.Spec(q)
		require.NoError(t, err)
		require.Equal(t, int32(0), spec.RetryPolicy.MaximumAttempts)
		require.Equal(t, 1.0, spec.RetryPolicy.BackoffCoefficient)
	}
	spec, err := r.Spec(QueueOpRebateReward)
	require.NoError(t, err)
	require.Equal(t, int32(5), spec.RetryPolicy.MaximumAttempts)
	require.Len(t, r.Specs(), len(AllQueues))

	_, err = ParseQueue("FeeBreakdown")
	require.NoError(t, err)
	_, err = ParseQueue("feebreakdown")
	require.Error(t, err)
}
