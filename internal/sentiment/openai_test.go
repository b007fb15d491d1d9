package sentiment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

func chatCompletionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-test",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(b)
}

func newTestOpenAI(t *testing.T, h http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	o, err := NewOpenAI(logger.Nop(), OpenAIOptions{
		APIKey:     "sk-test",
		Model:      "gpt-4o-mini",
		BaseURL:    srv.URL + "/v1",
		MaxRetries: 0,
	})
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	return o
}

func TestOpenAIScoreSendsPromptAndParses(t *testing.T) {
	var gotReq map[string]any
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path: want=/v1/chat/completions got=%s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization: want=%q got=%q", "Bearer sk-test", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionBody(`{"score": 0.8, "magnitude": 0.9}`)))
	})

	got, err := o.Score(context.Background(), "Loved the fast delivery")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got != (domain.Sentiment{Score: 0.8, Magnitude: 0.9}) {
		t.Fatalf("sentiment: want={0.8 0.9} got=%+v", got)
	}
	msgs, _ := gotReq["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages: want=2 got=%d", len(msgs))
	}
	user, _ := msgs[1].(map[string]any)
	if content, _ := user["content"].(string); !strings.HasSuffix(content, "Loved the fast delivery") {
		t.Fatalf("user prompt: want review suffix got=%q", content)
	}
	if gotReq["model"] != "gpt-4o-mini" {
		t.Fatalf("model: want=gpt-4o-mini got=%v", gotReq["model"])
	}
}

func TestOpenAIScoreMalformedReply(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionBody("{'score': 0.8, 'magnitude': 0.9}")))
	})
	_, err := o.Score(context.Background(), "meh")
	if kind, _ := domain.ScoringKindOf(err); kind != domain.ScoringMalformedReply {
		t.Fatalf("Score: want malformed_reply got=%v", err)
	}
}

func TestOpenAIScoreRateLimited(t *testing.T) {
	o := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`))
	})
	_, err := o.Score(context.Background(), "meh")
	if kind, _ := domain.ScoringKindOf(err); kind != domain.ScoringRateLimited {
		t.Fatalf("Score: want rate_limited got=%v", err)
	}
}

func TestOpenAIScoreRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionBody(`{"score": -0.5, "magnitude": 1.2}`)))
	}))
	t.Cleanup(srv.Close)
	o, err := NewOpenAI(logger.Nop(), OpenAIOptions{APIKey: "sk-test", Model: "m", BaseURL: srv.URL + "/v1", MaxRetries: 2})
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	o.retry.Base = 1

	got, err := o.Score(context.Background(), "Broken on arrival")
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if got.Score != -0.5 {
		t.Fatalf("score: want=-0.5 got=%v", got.Score)
	}
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Fatalf("calls: want=2 got=%d", n)
	}
}
