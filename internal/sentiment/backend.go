// Package sentiment scores review text through interchangeable backends.
//
// Every backend returns a domain.Sentiment or a *domain.ScoringError. Guard
// wraps a backend with a per-call timeout, an optional rate limit, a circuit
// breaker and range normalization, so callers see the same rules regardless
// of which backend is configured.
package sentiment

import (
	"context"
	"math"

	"github.com/yungbote/feedback-annotator/internal/domain"
)

type Backend interface {
	Name() string
	Score(ctx context.Context, text string) (domain.Sentiment, error)
}

// Normalize clamps score into [-1, 1] and floors magnitude at 0. Magnitude
// has no upper bound. Non-finite values are rejected.
func Normalize(backend string, s domain.Sentiment) (domain.Sentiment, error) {
	if !finite(s.Score) || !finite(s.Magnitude) {
		return domain.Sentiment{}, domain.NewScoringError(backend, domain.ScoringInvalidValue, "non-finite score or magnitude", nil)
	}
	return domain.Sentiment{
		Score:     math.Max(-1, math.Min(1, s.Score)),
		Magnitude: math.Max(0, s.Magnitude),
	}, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
