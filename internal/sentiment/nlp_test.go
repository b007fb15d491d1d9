package sentiment

import (
	"context"
	"testing"

	"cloud.google.com/go/language/apiv2/languagepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/feedback-annotator/internal/domain"
)

func TestNLPScore(t *testing.T) {
	var got *languagepb.AnalyzeSentimentRequest
	n := &NLP{analyze: func(_ context.Context, req *languagepb.AnalyzeSentimentRequest) (*languagepb.AnalyzeSentimentResponse, error) {
		got = req
		return &languagepb.AnalyzeSentimentResponse{
			DocumentSentiment: &languagepb.Sentiment{Score: 0.5, Magnitude: 2.5},
		}, nil
	}}

	s, err := n.Score(context.Background(), "Great value")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if s.Score != 0.5 || s.Magnitude != 2.5 {
		t.Fatalf("sentiment: want={0.5 2.5} got=%+v", s)
	}
	if got.GetDocument().GetContent() != "Great value" {
		t.Fatalf("content: want=%q got=%q", "Great value", got.GetDocument().GetContent())
	}
	if got.GetDocument().GetType() != languagepb.Document_PLAIN_TEXT {
		t.Fatalf("type: want PLAIN_TEXT got=%v", got.GetDocument().GetType())
	}
}

func TestNLPScoreErrorKinds(t *testing.T) {
	cases := []struct {
		code codes.Code
		want domain.ScoringErrorKind
	}{
		{codes.ResourceExhausted, domain.ScoringRateLimited},
		{codes.PermissionDenied, domain.ScoringAuth},
		{codes.DeadlineExceeded, domain.ScoringTimeout},
		{codes.InvalidArgument, domain.ScoringRefused},
		{codes.Unavailable, domain.ScoringTransport},
	}
	for _, tc := range cases {
		n := &NLP{analyze: func(context.Context, *languagepb.AnalyzeSentimentRequest) (*languagepb.AnalyzeSentimentResponse, error) {
			return nil, status.Error(tc.code, "boom")
		}}
		_, err := n.Score(context.Background(), "x")
		if kind, _ := domain.ScoringKindOf(err); kind != tc.want {
			t.Fatalf("%s: want=%s got=%v", tc.code, tc.want, err)
		}
	}
}

func TestNLPScoreMissingSentiment(t *testing.T) {
	n := &NLP{analyze: func(context.Context, *languagepb.AnalyzeSentimentRequest) (*languagepb.AnalyzeSentimentResponse, error) {
		return &languagepb.AnalyzeSentimentResponse{}, nil
	}}
	_, err := n.Score(context.Background(), "x")
	if kind, _ := domain.ScoringKindOf(err); kind != domain.ScoringMalformedReply {
		t.Fatalf("Score: want malformed_reply got=%v", err)
	}
}
