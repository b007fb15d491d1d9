package annotaterun

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

type ScheduleOptions struct {
	ID        string
	Cron      string
	TaskQueue string
	Limit     *int
}

// EnsureSchedule creates the recurring annotation schedule. Overlapping
// triggers are skipped while a run is still going. An existing schedule with
// the same ID counts as success and is left unchanged.
func EnsureSchedule(ctx context.Context, log *logger.Logger, sc client.ScheduleClient, opts ScheduleOptions) error {
	if sc == nil {
		return fmt.Errorf("schedule client required")
	}
	id := strings.TrimSpace(opts.ID)
	cron := strings.TrimSpace(opts.Cron)
	if id == "" || cron == "" || strings.TrimSpace(opts.TaskQueue) == "" {
		return fmt.Errorf("schedule id, cron and task queue are required")
	}

	_, err := sc.Create(ctx, client.ScheduleOptions{
		ID:      id,
		Spec:    client.ScheduleSpec{CronExpressions: []string{cron}},
		Overlap: enums.SCHEDULE_OVERLAP_POLICY_SKIP,
		Action: &client.ScheduleWorkflowAction{
			ID:        id + "-run",
			Workflow:  WorkflowName,
			Args:      []interface{}{Input{Limit: opts.Limit}},
			TaskQueue: opts.TaskQueue,
		},
	})
	if err == nil {
		if log != nil {
			log.Info("Created annotation schedule", "schedule_id", id, "cron", cron)
		}
		return nil
	}
	var exists *serviceerror.AlreadyExists
	if errors.Is(err, temporal.ErrScheduleAlreadyRunning) || errors.As(err, &exists) {
		if log != nil {
			log.Debug("Annotation schedule already exists", "schedule_id", id)
		}
		return nil
	}
	return fmt.Errorf("create schedule %q: %w", id, err)
}
