package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dotsetgreg/mindful/pkg/config"
)

func TestCreateProvider_OpenRouter_DefaultSelection(t *testing.T) {
	var seenAuth string
	var seenPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenPath = r.URL.Path
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if got := req["model"]; got != defaultOpenRouterModel {
			t.Fatalf("expected default model %q, got %v", defaultOpenRouterModel, got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL
	cfg.Companion.Provider = ""

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	resp, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("expected response content ok, got %q", resp.Content)
	}
	if seenAuth != "Bearer or-key" {
		t.Fatalf("expected openrouter auth bearer, got %q", seenAuth)
	}
	if seenPath != "/chat/completions" {
		t.Fatalf("expected /chat/completions path, got %q", seenPath)
	}
}

func TestCreateProvider_OpenAI_SamplingOptionsForwarded(t *testing.T) {
	var seenAuth string
	var seenOrg string
	var seenProject string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenOrg = r.Header.Get("OpenAI-Organization")
		seenProject = r.Header.Get("OpenAI-Project")

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if got := req["model"]; got != "gpt-4o" {
			t.Fatalf("expected model override gpt-4o, got %v", got)
		}
		if got := req["max_tokens"]; got != float64(900) {
			t.Fatalf("expected max_tokens 900, got %v", got)
		}
		if got := req["temperature"]; got != 0.7 {
			t.Fatalf("expected temperature 0.7, got %v", got)
		}
		if got := req["top_p"]; got != 0.9 {
			t.Fatalf("expected top_p 0.9, got %v", got)
		}
		if got := req["frequency_penalty"]; got != 0.3 {
			t.Fatalf("expected frequency_penalty 0.3, got %v", got)
		}
		if got := req["presence_penalty"]; got != 0.2 {
			t.Fatalf("expected presence_penalty 0.2, got %v", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"content": "hello there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Companion.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIKey = "sk-openai"
	cfg.Providers.OpenAI.APIBase = server.URL
	cfg.Providers.OpenAI.Organization = "org_123"
	cfg.Providers.OpenAI.Project = "proj_456"

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}

	resp, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "gpt-4o", map[string]interface{}{
		"max_tokens":        900,
		"temperature":       0.7,
		"top_p":             0.9,
		"frequency_penalty": 0.3,
		"presence_penalty":  0.2,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello there" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected usage %#v", resp.Usage)
	}
	if seenAuth != "Bearer sk-openai" {
		t.Fatalf("expected openai bearer auth, got %q", seenAuth)
	}
	if seenOrg != "org_123" || seenProject != "proj_456" {
		t.Fatalf("expected org/project headers, got %q %q", seenOrg, seenProject)
	}
}

func TestChat_APIErrorSurfacesMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"No auth credentials found"}}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	_, err = provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, "", nil)
	if err == nil {
		t.Fatal("expected API error")
	}
	if !strings.Contains(err.Error(), "status=401") {
		t.Fatalf("expected status in error, got %v", err)
	}
	if !strings.Contains(err.Error(), "openrouter.ai/keys") {
		t.Fatalf("expected credential hint, got %v", err)
	}
}

func TestCreateProvider_MissingCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := CreateProvider(cfg); err == nil {
		t.Fatal("expected error when no API key is configured")
	}

	cfg.Companion.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIKey = "sk-1"
	cfg.Providers.OpenAI.OAuthAccessToken = "oauth-1"
	if _, err := CreateProvider(cfg); err == nil {
		t.Fatal("expected error with multiple credential sources")
	}
}

func TestCreateProvider_UnsupportedProvider(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Companion.Provider = "ollama"
	_, err := CreateProvider(cfg)
	if err == nil || !strings.Contains(err.Error(), "unsupported provider") {
		t.Fatalf("expected unsupported provider error, got %v", err)
	}
}

func TestParseChatCompletionsResponse_EmptyChoices(t *testing.T) {
	resp, err := parseChatCompletionsResponse([]byte(`{"choices":[]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Content != "" || resp.FinishReason != "stop" {
		t.Fatalf("unexpected response %#v", resp)
	}
}

func TestFlattenMessageContent_MultiPart(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{"type": "text", "text": "Hello, "},
		map[string]interface{}{"type": "text", "text": "world"},
	}
	if got := flattenMessageContent(raw); got != "Hello, world" {
		t.Fatalf("flatten = %q", got)
	}
	if got := flattenMessageContent(42); got != "" {
		t.Fatalf("expected empty for unknown shape, got %q", got)
	}
}
