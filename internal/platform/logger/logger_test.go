package logger

import (
	"strings"
	"testing"
)

func TestSanitizeKVsRedactsSecrets(t *testing.T) {
	out := sanitizeKVs([]interface{}{"openai_api_key", "sk-live-123", "warehouse_dsn", "postgres://u:p@h/db", "id", "42"})
	if got := out[1]; got != "[REDACTED]" {
		t.Fatalf("api key: want=[REDACTED] got=%v", got)
	}
	if got := out[3]; got != "[REDACTED]" {
		t.Fatalf("dsn: want=[REDACTED] got=%v", got)
	}
	if got := out[5]; got != "42" {
		t.Fatalf("id: want=42 got=%v", got)
	}
}

func TestSanitizeKVsHashesReviewText(t *testing.T) {
	out := sanitizeKVs([]interface{}{"review", "The delivery was late again"})
	got, _ := out[1].(string)
	if !strings.HasPrefix(got, "hash:") || len(got) != len("hash:")+12 {
		t.Fatalf("review: want hash:<12 hex> got=%q", got)
	}
	again := sanitizeKVs([]interface{}{"review", "The delivery was late again"})
	if again[1] != got {
		t.Fatalf("hash stability: want=%v got=%v", got, again[1])
	}
}

func TestSanitizeKVsOddLength(t *testing.T) {
	out := sanitizeKVs([]interface{}{"stage", "scoring", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("odd kv: got=%v", out)
	}
}
