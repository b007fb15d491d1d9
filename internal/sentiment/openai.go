package sentiment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

const BackendNameOpenAI = "openai"

type OpenAIOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	MaxRetries int
	HTTPClient *http.Client
}

// OpenAI scores text with a hosted chat-completion model.
type OpenAI struct {
	log    *logger.Logger
	client *openai.Client
	model  string
	retry  retryPolicy
}

func NewOpenAI(log *logger.Logger, opts OpenAIOptions) (*OpenAI, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("missing OPENAI_MODEL")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &OpenAI{
		log:    log.With("service", "sentiment.OpenAI", "model", opts.Model),
		client: openai.NewClientWithConfig(cfg),
		model:  opts.Model,
		retry:  defaultRetryPolicy(opts.MaxRetries),
	}, nil
}

func (o *OpenAI) Name() string { return BackendNameOpenAI }

func (o *OpenAI) Score(ctx context.Context, text string) (domain.Sentiment, error) {
	return o.retry.do(ctx, o.log, BackendNameOpenAI, func() (domain.Sentiment, error) {
		return o.scoreOnce(ctx, text)
	})
}

func (o *OpenAI) scoreOnce(ctx context.Context, text string) (domain.Sentiment, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(text)},
		},
		Temperature: 0.3,
		MaxTokens:   100,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return domain.Sentiment{}, classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return domain.Sentiment{}, malformed(BackendNameOpenAI, "no choices in response", nil)
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter || strings.TrimSpace(choice.Message.Refusal) != "" {
		return domain.Sentiment{}, domain.NewScoringError(BackendNameOpenAI, domain.ScoringRefused, strings.TrimSpace(choice.Message.Refusal), nil)
	}
	return ParseReply(BackendNameOpenAI, choice.Message.Content)
}

func classifyOpenAI(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewScoringError(BackendNameOpenAI, domain.ScoringTimeout, "", err)
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewScoringError(BackendNameOpenAI, domain.ScoringCanceled, "", err)
	}
	code := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		code = reqErr.HTTPStatusCode
	}
	se := domain.NewScoringError(BackendNameOpenAI, kindForStatus(code), "", err)
	se.StatusCode = code
	return se
}

func kindForStatus(code int) domain.ScoringErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return domain.ScoringRateLimited
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.ScoringAuth
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return domain.ScoringTimeout
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return domain.ScoringRefused
	default:
		return domain.ScoringTransport
	}
}
