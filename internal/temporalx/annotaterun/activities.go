package annotaterun

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/yungbote/feedback-annotator/internal/config"
	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/ctxutil"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

// RunFunc performs one annotation run, typically app.App.RunAnnotation.
type RunFunc func(ctx context.Context, limit *int) (domain.RunReport, error)

type Activities struct {
	Log *logger.Logger
	Run RunFunc
	// HeartbeatEvery defaults to 10s.
	HeartbeatEvery time.Duration
}

func (a *Activities) Execute(ctx context.Context, in Input) (domain.RunReport, error) {
	if a == nil || a.Run == nil {
		return domain.RunReport{}, temporal.NewNonRetryableApplicationError("annotation activity not wired", ErrTypeConfig, nil)
	}
	stop := a.startHeartbeat(ctx)
	defer stop()

	inv := &ctxutil.Invocation{Trigger: ctxutil.TriggerSchedule}
	if activity.IsActivity(ctx) {
		inv.RequestID = activity.GetInfo(ctx).WorkflowExecution.ID
	}
	ctx = ctxutil.WithInvocation(ctx, inv)

	report, err := a.Run(ctx, in.Limit)
	switch {
	case err == nil:
		return report, nil
	case errors.Is(err, domain.ErrRunInProgress):
		if a.Log != nil {
			a.Log.Info("Annotation run skipped; another run holds the lock")
		}
		return report, nil
	}

	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return report, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeConfig, err)
	}
	if a.Log != nil {
		a.Log.Warn("Annotation run failed; Temporal will retry", "run_id", report.RunID, "error", err)
	}
	return report, err
}

func (a *Activities) startHeartbeat(ctx context.Context) func() {
	every := a.HeartbeatEvery
	if every <= 0 {
		every = 10 * time.Second
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
			}
		}
	}()
	return func() { close(done) }
}
