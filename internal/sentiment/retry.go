package sentiment

import (
	"context"
	"errors"
	"time"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/pkg/httpx"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

type retryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
}

func defaultRetryPolicy(maxRetries int) retryPolicy {
	return retryPolicy{MaxRetries: maxRetries, Base: 500 * time.Millisecond, Max: 8 * time.Second}
}

func retryableScoringError(err error) bool {
	var se *domain.ScoringError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Kind {
	case domain.ScoringRateLimited, domain.ScoringTimeout:
		return true
	case domain.ScoringTransport:
		return se.StatusCode == 0 || httpx.IsRetryableHTTPStatus(se.StatusCode)
	default:
		return false
	}
}

// do runs fn until it succeeds, fails with a non-retryable error, runs out
// of attempts, or ctx ends. The last backend error is returned.
func (p retryPolicy) do(ctx context.Context, log *logger.Logger, backend string, fn func() (domain.Sentiment, error)) (domain.Sentiment, error) {
	for attempt := 1; ; attempt++ {
		s, err := fn()
		if err == nil {
			return s, nil
		}
		if attempt > p.MaxRetries || !retryableScoringError(err) || ctx.Err() != nil {
			return s, err
		}
		sleep := httpx.JitterSleep(httpx.Backoff(p.Base, p.Max, attempt))
		if log != nil {
			log.Warn("Sentiment request retrying", "backend", backend, "attempt", attempt, "sleep", sleep.String(), "error", err)
		}
		if httpx.Sleep(ctx, sleep) != nil {
			return s, err
		}
	}
}
