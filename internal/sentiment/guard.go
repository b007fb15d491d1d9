package sentiment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

// Observer receives one call per Score with the outcome kind ("ok" or a
// ScoringErrorKind).
type Observer interface {
	ObserveScore(backend, outcome string, elapsed time.Duration)
}

type GuardOptions struct {
	Timeout          time.Duration
	RatePerSecond    float64
	Burst            int
	FailureThreshold uint32
	Cooldown         time.Duration
	Observer         Observer
}

// Guard decorates a Backend with the cross-cutting call policy.
type Guard struct {
	inner   Backend
	log     *logger.Logger
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[domain.Sentiment]
	obs     Observer
}

func NewGuard(log *logger.Logger, inner Backend, opts GuardOptions) *Guard {
	g := &Guard{
		inner:   inner,
		log:     log.With("service", "sentiment.Guard", "backend", inner.Name()),
		timeout: opts.Timeout,
		obs:     opts.Observer,
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	threshold := opts.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	cooldown := opts.Cooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	g.breaker = gobreaker.NewCircuitBreaker[domain.Sentiment](gobreaker.Settings{
		Name:        "sentiment-" + inner.Name(),
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn("Sentiment circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return g
}

// countsAsHealthy keeps replies the backend produced, even unusable ones,
// from tripping the breaker. Only outages and throttling count.
func countsAsHealthy(err error) bool {
	if err == nil {
		return true
	}
	kind, ok := domain.ScoringKindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case domain.ScoringTransport, domain.ScoringTimeout, domain.ScoringRateLimited, domain.ScoringAuth:
		return false
	default:
		return true
	}
}

func (g *Guard) Name() string { return g.inner.Name() }

func (g *Guard) Score(ctx context.Context, text string) (domain.Sentiment, error) {
	start := time.Now()
	s, err := g.score(ctx, text)
	if g.obs != nil {
		outcome := "ok"
		if kind, ok := domain.ScoringKindOf(err); ok {
			outcome = string(kind)
		}
		g.obs.ObserveScore(g.inner.Name(), outcome, time.Since(start))
	}
	return s, err
}

func (g *Guard) score(ctx context.Context, text string) (domain.Sentiment, error) {
	name := g.inner.Name()
	if strings.TrimSpace(text) == "" {
		return domain.Sentiment{}, domain.NewScoringError(name, domain.ScoringInvalidInput, "empty text", nil)
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(callCtx); err != nil {
			return domain.Sentiment{}, g.contextError(ctx, callCtx, domain.ScoringRateLimited, err)
		}
	}

	s, err := g.breaker.Execute(func() (domain.Sentiment, error) {
		return g.inner.Score(callCtx, text)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.Sentiment{}, domain.NewScoringError(name, domain.ScoringCircuitOpen, "backend temporarily disabled", err)
		}
		if _, ok := domain.ScoringKindOf(err); ok && ctx.Err() == nil && callCtx.Err() == nil {
			return domain.Sentiment{}, err
		}
		return domain.Sentiment{}, g.contextError(ctx, callCtx, domain.ScoringTransport, err)
	}
	return Normalize(name, s)
}

// contextError attributes a failure to caller cancellation, to the per-call
// deadline, or to fallback, in that order.
func (g *Guard) contextError(parent, call context.Context, fallback domain.ScoringErrorKind, err error) error {
	name := g.inner.Name()
	switch {
	case parent.Err() != nil:
		return domain.NewScoringError(name, domain.ScoringCanceled, "", err)
	case errors.Is(call.Err(), context.DeadlineExceeded):
		return domain.NewScoringError(name, domain.ScoringTimeout, "call exceeded "+g.timeout.String(), err)
	}
	if _, ok := domain.ScoringKindOf(err); ok {
		return err
	}
	return domain.NewScoringError(name, fallback, "", err)
}
