package temporal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alitto/pond/v2"
	"github.com/spokescan/spokescan/pkg/metrics"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap"
)

const (
	memoQueue   = "queue"
	memoPayload = "payload"
)

// Message is a stage payload. Key identifies the message instance within its queue.
type Message interface {
	Key() string
}

// StageInput is the argument of StageWorkflow.
type StageInput struct {
	Queue   Queue           `json:"queue"`
	Payload json.RawMessage `json:"payload"`
}

// FailedJob is a closed failed run recovered from visibility.
type FailedJob struct {
	Queue      Queue           `json:"queue"`
	WorkflowID string          `json:"workflowId"`
	RunID      string          `json:"runId"`
	Key        string          `json:"key"`
	Payload    json.RawMessage `json:"payload"`
}

// WorkflowClient is the subset of the Temporal client used to enqueue and inspect jobs.
type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	ListWorkflow(ctx context.Context, request *workflowservice.ListWorkflowExecutionsRequest) (*workflowservice.ListWorkflowExecutionsResponse, error)
}

// Orchestrator starts stage workflows. At most one run per message key is in flight; a
// finished key can run again.
type Orchestrator struct {
	client    WorkflowClient
	namespace string
	registry  *Registry
	pool      pond.Pool
	logger    *zap.Logger
}

func NewOrchestrator(c WorkflowClient, namespace string, registry *Registry, parallelism int, logger *zap.Logger) *Orchestrator {
	if parallelism <= 0 {
		parallelism = 16
	}
	return &Orchestrator{
		client:    c,
		namespace: namespace,
		registry:  registry,
		pool:      pond.NewPool(parallelism, pond.WithQueueSize(parallelism*64)),
		logger:    logger,
	}
}

// WorkflowID is "<queue>:<key>".
func WorkflowID(q Queue, key string) string {
	return string(q) + ":" + key
}

// Enqueue submits msg to q.
func (o *Orchestrator) Enqueue(ctx context.Context, q Queue, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", q, err)
	}
	return o.EnqueueRaw(ctx, q, msg.Key(), payload)
}

// EnqueueRaw submits an already encoded payload.
func (o *Orchestrator) EnqueueRaw(ctx context.Context, q Queue, key string, payload json.RawMessage) error {
	spec, err := o.registry.Spec(q)
	if err != nil {
		return err
	}
	opts := client.StartWorkflowOptions{
		ID:                       WorkflowID(q, key),
		TaskQueue:                spec.TaskQueue,
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		Memo: map[string]interface{}{
			memoQueue:   string(q),
			memoPayload: string(payload),
		},
	}
	if _, err := o.client.ExecuteWorkflow(ctx, opts, StageWorkflowName, StageInput{Queue: q, Payload: payload}); err != nil {
		return fmt.Errorf("enqueue %s: %w", opts.ID, err)
	}
	metrics.StageEnqueuedTotal.WithLabelValues(string(q)).Inc()
	return nil
}

// EnqueueBatch submits msgs in parallel and returns the first error after all attempts.
func (o *Orchestrator) EnqueueBatch(ctx context.Context, q Queue, msgs []Message) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}
	var (
		enqueued atomic.Int32
		errOnce  sync.Once
		firstErr error
	)
	group := o.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for _, m := range msgs {
		msg := m
		group.Submit(func() {
			if groupCtx.Err() != nil {
				return
			}
			if err := o.Enqueue(groupCtx, q, msg); err != nil {
				o.logger.Warn("failed to enqueue message",
					zap.String("queue", string(q)),
					zap.String("key", msg.Key()),
					zap.Error(err))
				errOnce.Do(func() { firstErr = err })
				return
			}
			enqueued.Add(1)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return int(enqueued.Load()), err
	}
	if firstErr != nil {
		return int(enqueued.Load()), firstErr
	}
	return int(enqueued.Load()), ctx.Err()
}

// ListFailed returns closed failed runs of q with their payloads.
func (o *Orchestrator) ListFailed(ctx context.Context, q Queue) ([]FailedJob, error) {
	spec, err := o.registry.Spec(q)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("TaskQueue = '%s' AND ExecutionStatus = 'Failed'", spec.TaskQueue)
	dc := converter.GetDefaultDataConverter()

	seen := map[string]bool{}
	var (
		out   []FailedJob
		token []byte
	)
	for {
		resp, err := o.client.ListWorkflow(ctx, &workflowservice.ListWorkflowExecutionsRequest{
			Namespace:     o.namespace,
			Query:         query,
			NextPageToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("list failed %s: %w", q, err)
		}
		for _, exec := range resp.GetExecutions() {
			wfID := exec.GetExecution().GetWorkflowId()
			// a key that failed more than once is retried once
			if seen[wfID] {
				continue
			}
			seen[wfID] = true

			job := FailedJob{
				Queue:      q,
				WorkflowID: wfID,
				RunID:      exec.GetExecution().GetRunId(),
				Key:        strings.TrimPrefix(wfID, string(q)+":"),
			}
			if p, ok := exec.GetMemo().GetFields()[memoPayload]; ok {
				var payload string
				if err := dc.FromPayload(p, &payload); err != nil {
					o.logger.Warn("unreadable memo payload", zap.String("workflow_id", wfID), zap.Error(err))
					continue
				}
				job.Payload = json.RawMessage(payload)
			}
			out = append(out, job)
		}
		token = resp.GetNextPageToken()
		if len(token) == 0 {
			break
		}
	}
	return out, nil
}

// RetryFailed re-enqueues every failed run of q and returns how many were resubmitted.
func (o *Orchestrator) RetryFailed(ctx context.Context, q Queue) (int, error) {
	jobs, err := o.ListFailed(ctx, q)
	if err != nil {
		return 0, err
	}
	retried := 0
	for _, job := range jobs {
		if len(job.Payload) == 0 {
			continue
		}
		if err := o.EnqueueRaw(ctx, q, job.Key, job.Payload); err != nil {
			return retried, err
		}
		retried++
	}
	o.logger.Info("retried failed jobs", zap.String("queue", string(q)), zap.Int("count", retried))
	return retried, nil
}

// Close drains the submission pool.
func (o *Orchestrator) Close() {
	o.pool.StopAndWait()
}
