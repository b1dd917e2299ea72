package briefing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chatServer(t *testing.T, content string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if seen != nil {
			_ = json.Unmarshal(body, seen)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4.1",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIGenerator_Generate(t *testing.T) {
	var seen map[string]any
	srv := chatServer(t, "# Daily Briefing\n- Standup", &seen)

	gen, err := NewGenerator(GeneratorConfig{Provider: "openai", APIKey: "test", BaseURL: srv.URL, Temperature: 0.2})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	got, err := gen.Generate(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(got, "Standup") {
		t.Fatalf("unexpected content %q", got)
	}
	if seen["model"] != "gpt-4.1" {
		t.Fatalf("want default model, got %v", seen["model"])
	}
	if msgs, ok := seen["messages"].([]any); !ok || len(msgs) != 2 {
		t.Fatalf("want system and user messages, got %v", seen["messages"])
	}
}

func TestOpenAIGenerator_EmptyContent(t *testing.T) {
	srv := chatServer(t, "   ", nil)
	gen, err := NewGenerator(GeneratorConfig{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gen.Generate(context.Background(), "s", "u"); !errors.Is(err, ErrEmptyBriefing) {
		t.Fatalf("want ErrEmptyBriefing, got %v", err)
	}
}

func TestNewGenerator_Validation(t *testing.T) {
	if _, err := NewGenerator(GeneratorConfig{Provider: "openai"}); err == nil {
		t.Fatal("want error for missing api key")
	}
	if _, err := NewGenerator(GeneratorConfig{Provider: "bard", APIKey: "k"}); err == nil {
		t.Fatal("want error for unknown provider")
	}
	gen, err := NewGenerator(GeneratorConfig{Provider: "Anthropic", APIKey: "k"})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	if _, ok := gen.(*AnthropicGenerator); !ok {
		t.Fatalf("want *AnthropicGenerator, got %T", gen)
	}
}
