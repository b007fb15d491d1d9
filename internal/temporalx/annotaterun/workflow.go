package annotaterun

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/feedback-annotator/internal/domain"
)

// Workflow executes a single annotation run. Fatal run errors fail the
// activity and are retried with exponential backoff; a run that another
// holder has locked completes as skipped.
func Workflow(ctx workflow.Context, in Input) (domain.RunReport, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 6 * time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        30 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        30 * time.Minute,
			MaximumAttempts:        5,
			NonRetryableErrorTypes: []string{ErrTypeConfig},
		},
	})

	var report domain.RunReport
	if err := workflow.ExecuteActivity(ctx, ActivityRun, in).Get(ctx, &report); err != nil {
		workflow.GetLogger(ctx).Error("Annotation run failed", "error", err)
		return report, err
	}
	workflow.GetLogger(ctx).Info("Annotation run finished",
		"run_id", report.RunID,
		"state", report.State,
		"persisted", report.Persisted,
	)
	return report, nil
}
