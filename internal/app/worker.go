package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/yungbote/feedback-annotator/internal/temporalx"
	"github.com/yungbote/feedback-annotator/internal/temporalx/annotaterun"
	"github.com/yungbote/feedback-annotator/internal/temporalx/temporalworker"
)

// Worker polls the Temporal task queue for scheduled runs and makes sure the
// recurring schedule exists. It blocks until ctx ends.
func (a *App) Worker(ctx context.Context) error {
	tcfg := temporalx.LoadConfig()
	tc, err := temporalx.NewClient(ctx, a.Log, tcfg)
	if err != nil {
		if errors.Is(err, temporalx.ErrDisabled) {
			return fmt.Errorf("worker requires TEMPORAL_ADDRESS: %w", err)
		}
		return err
	}
	defer tc.Close()

	runner, err := temporalworker.NewRunner(a.Log, tcfg, tc, a.RunAnnotation)
	if err != nil {
		return err
	}
	if err := runner.Start(ctx); err != nil {
		return fmt.Errorf("start temporal worker: %w", err)
	}

	if a.Cfg.Schedule.Cron != "" {
		var limit *int
		if a.Cfg.Annotation.DefaultRowLimit > 0 {
			n := a.Cfg.Annotation.DefaultRowLimit
			limit = &n
		}
		if err := annotaterun.EnsureSchedule(ctx, a.Log, tc.ScheduleClient(), annotaterun.ScheduleOptions{
			ID:        a.Cfg.Schedule.ID,
			Cron:      a.Cfg.Schedule.Cron,
			TaskQueue: tcfg.TaskQueue,
			Limit:     limit,
		}); err != nil {
			return err
		}
	}

	<-ctx.Done()
	a.Log.Info("Temporal worker stopping")
	return nil
}
