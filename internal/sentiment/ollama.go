package sentiment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/pkg/httpx"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

const BackendNameOllama = "ollama"

type OllamaOptions struct {
	BaseURL    string
	Model      string
	MaxRetries int
	HTTPClient *http.Client
}

// Ollama scores text with a locally hosted chat model.
type Ollama struct {
	log        *logger.Logger
	baseURL    string
	model      string
	httpClient *http.Client
	retry      retryPolicy
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

func NewOllama(log *logger.Logger, opts OllamaOptions) (*Ollama, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("missing OLLAMA_BASE_URL")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("missing OLLAMA_MODEL")
	}
	hc := opts.HTTPClient
	if hc == nil {
		// Local models can be slow to load; the per-call deadline comes from ctx.
		hc = &http.Client{Timeout: 5 * time.Minute}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Ollama{
		log:        log.With("service", "sentiment.Ollama", "model", opts.Model),
		baseURL:    base,
		model:      opts.Model,
		httpClient: hc,
		retry:      defaultRetryPolicy(opts.MaxRetries),
	}, nil
}

func (o *Ollama) Name() string { return BackendNameOllama }

func (o *Ollama) Score(ctx context.Context, text string) (domain.Sentiment, error) {
	return o.retry.do(ctx, o.log, BackendNameOllama, func() (domain.Sentiment, error) {
		return o.scoreOnce(ctx, text)
	})
}

func (o *Ollama) scoreOnce(ctx context.Context, text string) (domain.Sentiment, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model: o.model,
		Messages: []ollamaMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(text)},
		},
		Stream:  false,
		Format:  "json",
		Options: map[string]any{"temperature": 0.3, "num_predict": 100},
	})
	if err != nil {
		return domain.Sentiment{}, domain.NewScoringError(BackendNameOllama, domain.ScoringInvalidInput, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return domain.Sentiment{}, domain.NewScoringError(BackendNameOllama, domain.ScoringTransport, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return domain.Sentiment{}, classifyTransport(BackendNameOllama, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Sentiment{}, classifyTransport(BackendNameOllama, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &httpx.StatusError{
			Status:     resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(raw)), 512),
			RetryAfter: httpx.RetryAfterDuration(resp, 0, 30*time.Second),
		}
		se := domain.NewScoringError(BackendNameOllama, kindForStatus(resp.StatusCode), "", statusErr)
		se.StatusCode = resp.StatusCode
		return domain.Sentiment{}, se
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.Sentiment{}, malformed(BackendNameOllama, "undecodable chat response", err)
	}
	if out.Error != "" {
		return domain.Sentiment{}, domain.NewScoringError(BackendNameOllama, domain.ScoringRefused, out.Error, nil)
	}
	return ParseReply(BackendNameOllama, out.Message.Content)
}

func classifyTransport(backend string, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return domain.NewScoringError(backend, domain.ScoringCanceled, "", err)
	case errors.Is(err, context.DeadlineExceeded), httpx.IsRetryableError(err):
		return domain.NewScoringError(backend, domain.ScoringTimeout, "", err)
	default:
		return domain.NewScoringError(backend, domain.ScoringTransport, "", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
