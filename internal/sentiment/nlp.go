package sentiment

import (
	"context"
	"errors"
	"fmt"

	language "cloud.google.com/go/language/apiv2"
	"cloud.google.com/go/language/apiv2/languagepb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/gcp"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

const BackendNameNLP = "nlp"

type analyzeFunc func(ctx context.Context, req *languagepb.AnalyzeSentimentRequest) (*languagepb.AnalyzeSentimentResponse, error)

// NLP scores text with the Cloud Natural Language document sentiment API.
type NLP struct {
	log     *logger.Logger
	analyze analyzeFunc
	close   func() error
}

func NewNLP(ctx context.Context, log *logger.Logger, credentials string) (*NLP, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	client, err := language.NewClient(ctx, gcp.ClientOptions(credentials)...)
	if err != nil {
		return nil, fmt.Errorf("language client: %w", err)
	}
	return &NLP{
		log: log.With("service", "sentiment.NLP"),
		analyze: func(ctx context.Context, req *languagepb.AnalyzeSentimentRequest) (*languagepb.AnalyzeSentimentResponse, error) {
			return client.AnalyzeSentiment(ctx, req)
		},
		close: client.Close,
	}, nil
}

func (n *NLP) Name() string { return BackendNameNLP }

func (n *NLP) Score(ctx context.Context, text string) (domain.Sentiment, error) {
	resp, err := n.analyze(ctx, &languagepb.AnalyzeSentimentRequest{
		Document: &languagepb.Document{
			Type:   languagepb.Document_PLAIN_TEXT,
			Source: &languagepb.Document_Content{Content: text},
		},
		EncodingType: languagepb.EncodingType_UTF8,
	})
	if err != nil {
		return domain.Sentiment{}, classifyGRPC(BackendNameNLP, err)
	}
	ds := resp.GetDocumentSentiment()
	if ds == nil {
		return domain.Sentiment{}, domain.NewScoringError(BackendNameNLP, domain.ScoringMalformedReply, "response has no document sentiment", nil)
	}
	return domain.Sentiment{Score: float64(ds.GetScore()), Magnitude: float64(ds.GetMagnitude())}, nil
}

func (n *NLP) Close() error {
	if n == nil || n.close == nil {
		return nil
	}
	return n.close()
}

func classifyGRPC(backend string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewScoringError(backend, domain.ScoringTimeout, "", err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewScoringError(backend, domain.ScoringCanceled, "", err)
	}
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return domain.NewScoringError(backend, domain.ScoringTimeout, "", err)
	case codes.Canceled:
		return domain.NewScoringError(backend, domain.ScoringCanceled, "", err)
	case codes.ResourceExhausted:
		return domain.NewScoringError(backend, domain.ScoringRateLimited, "", err)
	case codes.Unauthenticated, codes.PermissionDenied:
		return domain.NewScoringError(backend, domain.ScoringAuth, "", err)
	case codes.InvalidArgument:
		return domain.NewScoringError(backend, domain.ScoringRefused, "text rejected", err)
	default:
		return domain.NewScoringError(backend, domain.ScoringTransport, "", err)
	}
}
