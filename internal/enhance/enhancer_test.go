package enhance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ncecere/open_image_gateway/internal/models"
)

func TestBaseURL(t *testing.T) {
	cases := map[string]string{
		"http://localhost:3000/v1/chat/completions": "http://localhost:3000/v1/",
		"http://llm/v1/":                            "http://llm/v1/",
	}
	for in, want := range cases {
		if got := BaseURL(in); got != want {
			t.Fatalf("%s: got %s want %s", in, got, want)
		}
	}
}

func TestEnhance(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"<think>hmm</think> A fluffy cat"}}]}`))
	}))
	defer srv.Close()

	e := New(srv.Client(), 0, nil)
	cfg := models.PromptSettings{Enabled: true, Model: "Qwen/Qwen3-8B", APIURL: srv.URL + "/v1/chat/completions"}
	out := e.Enhance(context.Background(), cfg, "provider-key", "一只猫")
	if out != "A fluffy cat" {
		t.Fatalf("unexpected output %q", out)
	}
	if auth != "Bearer provider-key" || got.Model != "Qwen/Qwen3-8B" || len(got.Messages) != 2 || got.Messages[1].Content != "一只猫" {
		t.Fatalf("unexpected request auth=%q body=%+v", auth, got)
	}
	if got.Messages[0].Role != "system" || got.Messages[0].Content != models.DefaultEnhancerSystemPrompt {
		t.Fatalf("system prompt not sent: %+v", got.Messages[0])
	}
}

func TestEnhanceFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New(srv.Client(), 0, nil)
	cfg := models.PromptSettings{Enabled: true, Model: "m", APIURL: srv.URL}
	if out := e.Enhance(context.Background(), cfg, "k", "original"); out != "original" {
		t.Fatalf("expected fallback, got %q", out)
	}
	cfg.Enabled = false
	if out := e.Enhance(context.Background(), cfg, "k", "original"); out != "original" {
		t.Fatalf("disabled enhancer must pass through, got %q", out)
	}
}
