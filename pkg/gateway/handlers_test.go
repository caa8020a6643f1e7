package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dotsetgreg/mindful/pkg/chat"
	"github.com/dotsetgreg/mindful/pkg/config"
	"github.com/dotsetgreg/mindful/pkg/identity"
	"github.com/dotsetgreg/mindful/pkg/memory"
	"github.com/dotsetgreg/mindful/pkg/providers"
)

type stubProvider struct {
	reply string
	err   error
}

func (s *stubProvider) Chat(context.Context, []providers.Message, string, map[string]interface{}) (*providers.LLMResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &providers.LLMResponse{Content: s.reply, FinishReason: "stop"}, nil
}

func (s *stubProvider) GetDefaultModel() string { return "stub" }

func newTestHandler(t *testing.T, provider providers.LLMProvider) http.Handler {
	t.Helper()
	mem, err := memory.NewService(memory.Config{
		Workspace:  t.TempDir(),
		WorkerPoll: time.Hour,
	}, func(context.Context, string, string) (string, error) { return "{}", nil })
	if err != nil {
		t.Fatalf("memory service: %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })

	cfg := config.DefaultConfig()
	turns, err := chat.NewService(cfg.Companion, provider, mem)
	if err != nil {
		t.Fatalf("chat service: %v", err)
	}

	handler := NewChatHandler(turns, identity.NewResolver(cfg.Identity))
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", handler.HandleChat)
	mux.HandleFunc("/healthz", handler.HandleHealth)

	var h http.Handler = mux
	h = RecoverMiddleware()(h)
	h = RequestIDMiddleware()(h)
	return h
}

func postChat(t *testing.T, h http.Handler, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleChat_FirstRequestIssuesIdentity(t *testing.T) {
	h := newTestHandler(t, &stubProvider{reply: "Hello, I'm listening."})

	rec := postChat(t, h, `{"message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply != "Hello, I'm listening." {
		t.Fatalf("unexpected reply %q", resp.Reply)
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "anon_id" || cookies[0].Value == "" {
		t.Fatalf("expected a fresh identity cookie, got %#v", cookies)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a request id header")
	}
}

func TestHandleChat_ReturningClientKeepsIdentity(t *testing.T) {
	h := newTestHandler(t, &stubProvider{reply: "Welcome back."})

	first := postChat(t, h, `{"message":"hello"}`)
	cookie := first.Result().Cookies()[0]

	second := postChat(t, h, `{"message":"hello again"}`, cookie)
	if second.Code != http.StatusOK {
		t.Fatalf("status = %d", second.Code)
	}
	if len(second.Result().Cookies()) != 0 {
		t.Fatal("returning client must not get a new identity cookie")
	}
}

func TestHandleChat_EmptyMessageRejected(t *testing.T) {
	h := newTestHandler(t, &stubProvider{reply: "never"})

	for _, body := range []string{`{"message":""}`, `{"message":"   "}`, `{}`} {
		rec := postChat(t, h, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status = %d, want 400", body, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Invalid message") {
			t.Fatalf("body %s: unexpected error payload %s", body, rec.Body.String())
		}
	}
}

func TestHandleChat_MalformedBodyRejected(t *testing.T) {
	h := newTestHandler(t, &stubProvider{reply: "never"})
	rec := postChat(t, h, `{"message": `)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleChat_ProviderFailureStillSucceeds(t *testing.T) {
	h := newTestHandler(t, &stubProvider{err: errors.New("upstream down")})

	rec := postChat(t, h, `{"message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with fallback", rec.Code)
	}
	var resp struct {
		Reply string `json:"reply"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Reply != config.DefaultConfig().Companion.FallbackReply {
		t.Fatalf("expected fallback reply, got %q", resp.Reply)
	}
	if strings.Contains(rec.Body.String(), "upstream down") {
		t.Fatal("provider internals must never reach the client")
	}
}

func TestHandleChat_MethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, &stubProvider{reply: "never"})
	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	h := newTestHandler(t, &stubProvider{reply: "ok"})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("unexpected health payload %s", rec.Body.String())
	}
}
