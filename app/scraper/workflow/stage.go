package workflow

import (
	"fmt"

	"github.com/spokescan/spokescan/pkg/temporal"
	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Context carries what workflows need besides their input.
type Context struct {
	Registry *temporal.Registry
}

// StageWorkflow runs the single activity of a stage queue under that queue's retry policy.
// The raw payload is handed to the activity, which decodes it into its own input type.
func (wc *Context) StageWorkflow(ctx workflow.Context, in temporal.StageInput) error {
	spec, err := wc.Registry.Spec(in.Queue)
	if err != nil {
		return sdktemporal.NewNonRetryableApplicationError(
			fmt.Sprintf("unknown queue %q", in.Queue), "unknown_queue", err)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: spec.Timeout,
		RetryPolicy:         spec.RetryPolicy,
	})

	if err := workflow.ExecuteActivity(ctx, spec.Activity, in.Payload).Get(ctx, nil); err != nil {
		workflow.GetLogger(ctx).Error("Stage failed", "queue", string(in.Queue), "error", err)
		return err
	}
	return nil
}
