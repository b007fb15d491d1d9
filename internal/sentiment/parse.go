package sentiment

import (
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/yungbote/feedback-annotator/internal/domain"
)

const (
	systemPrompt = "You are a sentiment analysis expert. Analyze the sentiment of the given text and provide a score and magnitude."
	userPrompt   = "Analyze the sentiment of the following review. Respond only with a JSON object of the form " +
		`{"score": <float>, "magnitude": <float>}` +
		" where score is between -1 (very negative) and 1 (very positive) and magnitude is the strength of the sentiment, " +
		"0 for neutral and higher for stronger sentiment. Do not add any other keys or text.\n\n"
)

func buildUserPrompt(review string) string {
	return userPrompt + review
}

type reply struct {
	Score     *float64 `json:"score"`
	Magnitude *float64 `json:"magnitude"`
}

// ParseReply decodes a chat model's answer. It accepts exactly one JSON
// object holding numeric "score" and "magnitude" and nothing else, optionally
// inside a single Markdown code fence. Anything else fails closed.
func ParseReply(backend, raw string) (domain.Sentiment, error) {
	body := stripFence(strings.TrimSpace(raw))
	if body == "" {
		return domain.Sentiment{}, malformed(backend, "empty reply", nil)
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.DisallowUnknownFields()

	var r reply
	if err := dec.Decode(&r); err != nil {
		return domain.Sentiment{}, malformed(backend, "not a sentiment object", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return domain.Sentiment{}, malformed(backend, "trailing content after object", nil)
	}
	if r.Score == nil || r.Magnitude == nil {
		return domain.Sentiment{}, malformed(backend, "score and magnitude are both required", nil)
	}
	return domain.Sentiment{Score: *r.Score, Magnitude: *r.Magnitude}, nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		lang := strings.TrimSpace(inner[:nl])
		if lang == "" || strings.EqualFold(lang, "json") {
			inner = inner[nl+1:]
		}
	}
	return strings.TrimSpace(inner)
}

func malformed(backend, msg string, cause error) error {
	return domain.NewScoringError(backend, domain.ScoringMalformedReply, msg, cause)
}
