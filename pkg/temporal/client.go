package temporal

import (
	"context"
	"time"

	"github.com/spokescan/spokescan/pkg/utils"
	"go.temporal.io/api/enums/v1"
	taskqueuepb "go.temporal.io/api/taskqueue/v1"
	workflowservicepb "go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

const DefaultNamespace = "spokescan"

type Client struct {
	TClient   client.Client
	HostPort  string
	Namespace string
}

// QueueHealth reports the pollers attached to a stage queue.
type QueueHealth struct {
	Queue   Queue `json:"queue"`
	Pollers int   `json:"pollers"`
}

type Health struct {
	ConnectionOK bool          `json:"connection_ok"`
	Queues       []QueueHealth `json:"queues"`
}

// NewClient connects using TEMPORAL_HOSTPORT and TEMPORAL_NAMESPACE.
func NewClient(ctx context.Context, logger *zap.Logger) (*Client, error) {
	host := utils.Env("TEMPORAL_HOSTPORT", "localhost:7233")
	ns := utils.Env("TEMPORAL_NAMESPACE", DefaultNamespace)

	logger.Info("Connecting to Temporal", zap.String("host", host), zap.String("namespace", ns))
	tClient, err := Dial(ctx, host, ns, NewZapAdapter(logger))
	if err != nil {
		return nil, err
	}

	if _, err = tClient.CheckHealth(ctx, nil); err != nil {
		tClient.Close()
		return nil, err
	}

	return &Client{TClient: tClient, HostPort: host, Namespace: ns}, nil
}

// Dial connects to Temporal using the provided hostPort and namespace.
func Dial(ctx context.Context, hostPort, namespace string, logger log.Logger) (client.Client, error) {
	return client.DialContext(
		ctx,
		client.Options{
			HostPort:  hostPort,
			Namespace: namespace,
			Logger:    logger,
		},
	)
}

func (c *Client) Close() {
	c.TClient.Close()
}

// Health describes the activity pollers of the given stage queues.
func (c *Client) Health(ctx context.Context, registry *Registry) (Health, error) {
	h := Health{ConnectionOK: true}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := c.TClient.CheckHealth(ctx, nil); err != nil {
		h.ConnectionOK = false
		return h, err
	}

	svc := c.TClient.WorkflowService()
	if svc == nil {
		return h, nil
	}
	for _, spec := range registry.Specs() {
		rep, err := svc.DescribeTaskQueue(ctx, &workflowservicepb.DescribeTaskQueueRequest{
			Namespace:     c.Namespace,
			TaskQueue:     &taskqueuepb.TaskQueue{Name: spec.TaskQueue},
			TaskQueueType: enums.TASK_QUEUE_TYPE_ACTIVITY,
		})
		if err != nil {
			continue
		}
		h.Queues = append(h.Queues, QueueHealth{Queue: spec.Queue, Pollers: len(rep.GetPollers())})
	}
	return h, nil
}

// ZapAdapter is a Temporal logger adapter for Zap.
type ZapAdapter struct{ *zap.SugaredLogger }

// NewZapAdapter creates a new Temporal logger adapter from a Zap logger.
func NewZapAdapter(logger *zap.Logger) *ZapAdapter {
	// Sugared since Temporal passes keyvals
	return &ZapAdapter{logger.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func (z *ZapAdapter) Debug(msg string, keyvals ...interface{}) { z.Debugw(msg, keyvals...) }
func (z *ZapAdapter) Info(msg string, keyvals ...interface{})  { z.Infow(msg, keyvals...) }
func (z *ZapAdapter) Warn(msg string, keyvals ...interface{})  { z.Warnw(msg, keyvals...) }
func (z *ZapAdapter) Error(msg string, keyvals ...interface{}) { z.Errorw(msg, keyvals...) }

// With implements log.WithLogger so workflow and activity loggers keep their tags.
func (z *ZapAdapter) With(keyvals ...interface{}) log.Logger {
	return &ZapAdapter{z.SugaredLogger.With(keyvals...)}
}
