package temporal

import (
	"fmt"
	"sort"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
)

// Queue identifies a stage queue. The set is closed.
type Queue string

const (
	QueueBlocksEvents                  Queue = "BlocksEvents"
	QueueMerkleDistributorBlocksEvents Queue = "MerkleDistributorBlocksEvents"
	QueueFillEvents                    Queue = "FillEvents"
	QueueFillEvents2                   Queue = "FillEvents2"
	QueueSpeedUpEvents                 Queue = "SpeedUpEvents"
	QueueRefundEvents                  Queue = "RefundEvents"
	QueueBlockNumber                   Queue = "BlockNumber"
	QueueTokenDetails                  Queue = "TokenDetails"
	QueueDepositReferral               Queue = "DepositReferral"
	QueueRectifyStickyReferral         Queue = "RectifyStickyReferral"
	QueueTokenPrice                    Queue = "TokenPrice"
	QueueDepositFilledDate             Queue = "DepositFilledDate"
	QueueDepositAcxPrice               Queue = "DepositAcxPrice"
	QueueFeeBreakdown                  Queue = "FeeBreakdown"
	QueueOpRebateReward                Queue = "OpRebateReward"
)

// AllQueues lists every stage queue in pipeline order.
var AllQueues = []Queue{
	QueueBlocksEvents,
	QueueMerkleDistributorBlocksEvents,
	QueueFillEvents,
	QueueFillEvents2,
	QueueSpeedUpEvents,
	QueueRefundEvents,
	QueueBlockNumber,
	QueueTokenDetails,
	QueueDepositReferral,
	QueueRectifyStickyReferral,
	QueueTokenPrice,
	QueueDepositFilledDate,
	QueueDepositAcxPrice,
	QueueFeeBreakdown,
	QueueOpRebateReward,
}

// StageWorkflowName is the single workflow type executing stage messages.
const StageWorkflowName = "StageWorkflow"

// QueueSpec binds a queue to its task queue, activity and retry behaviour.
type QueueSpec struct {
	Queue       Queue
	TaskQueue   string
	Activity    string
	RetryPolicy *sdktemporal.RetryPolicy
	Timeout     time.Duration
}

// DefaultRetryPolicy backs off from 1s doubling up to a minute, five attempts.
func DefaultRetryPolicy() *sdktemporal.RetryPolicy {
	return &sdktemporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    time.Minute,
		MaximumAttempts:    5,
	}
}

// EventRetryPolicy retries every two minutes until the deposit the event refers to exists.
func EventRetryPolicy() *sdktemporal.RetryPolicy {
	return &sdktemporal.RetryPolicy{
		InitialInterval:    120 * time.Second,
		BackoffCoefficient: 1.0,
		MaximumInterval:    120 * time.Second,
		MaximumAttempts:    0,
	}
}

// Registry is the immutable queue table built at startup.
type Registry struct {
	specs map[Queue]QueueSpec
}

// NewRegistry builds the table for every queue in AllQueues.
func NewRegistry() *Registry {
	r := &Registry{specs: make(map[Queue]QueueSpec, len(AllQueues))}
	for _, q := range AllQueues {
		spec := QueueSpec{
			Queue:       q,
			TaskQueue:   "spokescan:" + string(q),
			Activity:    string(q),
			RetryPolicy: DefaultRetryPolicy(),
			Timeout:     2 * time.Minute,
		}
		switch q {
		case QueueFillEvents, QueueFillEvents2, QueueSpeedUpEvents, QueueRefundEvents:
			spec.RetryPolicy = EventRetryPolicy()
		case QueueBlocksEvents, QueueMerkleDistributorBlocksEvents:
			spec.Timeout = 10 * time.Minute
		}
		r.specs[q] = spec
	}
	return r
}

// Spec returns the settings of q; unknown queues are an error.
func (r *Registry) Spec(q Queue) (QueueSpec, error) {
	spec, ok := r.specs[q]
	if !ok {
		return QueueSpec{}, fmt.Errorf("unknown queue %q", q)
	}
	return spec, nil
}

// Specs returns all specs ordered by queue name.
func (r *Registry) Specs() []QueueSpec {
	out := make([]QueueSpec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Queue < out[j].Queue })
	return out
}

// ParseQueue validates a queue name coming from outside the process.
func ParseQueue(name string) (Queue, error) {
	for _, q := range AllQueues {
		if string(q) == name {
			return q, nil
		}
	}
	return "", fmt.Errorf("unknown queue %q", name)
}
