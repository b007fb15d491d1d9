package sentiment

import (
	"context"
	"fmt"
	"time"

	"github.com/yungbote/feedback-annotator/internal/config"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

// New builds the configured backend wrapped in a Guard. The returned close
// function releases backend clients and is never nil.
func New(ctx context.Context, log *logger.Logger, cfg config.Config, obs Observer) (Backend, func() error, error) {
	noop := func() error { return nil }
	maxRetries := cfg.Annotation.MaxRetries

	var (
		inner   Backend
		closeFn = noop
	)
	switch cfg.Backend.Kind {
	case config.BackendNLP:
		nlp, err := NewNLP(ctx, log, cfg.GCP.Credentials)
		if err != nil {
			return nil, noop, err
		}
		inner, closeFn = nlp, nlp.Close
	case config.BackendOpenAI:
		o, err := NewOpenAI(log, OpenAIOptions{
			APIKey:     cfg.Backend.OpenAI.APIKey,
			Model:      cfg.Backend.OpenAI.Model,
			BaseURL:    cfg.Backend.OpenAI.BaseURL,
			MaxRetries: maxRetries,
		})
		if err != nil {
			return nil, noop, err
		}
		inner = o
	case config.BackendOllama:
		o, err := NewOllama(log, OllamaOptions{
			BaseURL:    cfg.Backend.Ollama.BaseURL,
			Model:      cfg.Backend.Ollama.Model,
			MaxRetries: maxRetries,
		})
		if err != nil {
			return nil, noop, err
		}
		inner = o
	default:
		return nil, noop, fmt.Errorf("unknown sentiment backend %q", cfg.Backend.Kind)
	}

	a := cfg.Annotation
	guard := NewGuard(log, inner, GuardOptions{
		Timeout:          a.ScoringTimeout(),
		RatePerSecond:    a.RatePerSecond,
		Burst:            a.Concurrency,
		FailureThreshold: uint32(max(a.BreakerFailureThreshold, 1)),
		Cooldown:         secondsOrZero(a.BreakerCooldownSeconds),
		Observer:         obs,
	})
	log.Info("Sentiment backend ready", "backend", inner.Name())
	return guard, closeFn, nil
}

func secondsOrZero(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
