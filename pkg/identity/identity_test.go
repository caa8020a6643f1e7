package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dotsetgreg/mindful/pkg/config"
)

func TestResolve_IssuesCookieForNewClient(t *testing.T) {
	r := NewResolver(config.IdentityConfig{
		CookieName:   "anon_id",
		CookieMaxAge: 31536000,
		CookieSecure: true,
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)

	id := r.Resolve(rec, req)
	if id == "" {
		t.Fatal("expected a fresh id")
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected 1 Set-Cookie, got %d", len(cookies))
	}
	c := cookies[0]
	if c.Name != "anon_id" || c.Value != id {
		t.Fatalf("cookie carries wrong identity: %#v", c)
	}
	if !c.HttpOnly {
		t.Fatal("cookie must be HttpOnly")
	}
	if !c.Secure {
		t.Fatal("cookie must be Secure when configured")
	}
	if c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("cookie SameSite = %v, want Lax", c.SameSite)
	}
	if c.Path != "/" {
		t.Fatalf("cookie path = %q, want /", c.Path)
	}
	if c.MaxAge != 31536000 {
		t.Fatalf("cookie max age = %d, want one year", c.MaxAge)
	}
}

func TestResolve_KeepsExistingIdentity(t *testing.T) {
	r := NewResolver(config.IdentityConfig{CookieName: "anon_id"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.AddCookie(&http.Cookie{Name: "anon_id", Value: "existing-id"})

	if got := r.Resolve(rec, req); got != "existing-id" {
		t.Fatalf("existing identity must be returned unchanged, got %q", got)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatal("existing identity must not be reissued")
	}
}

func TestResolve_BlankCookieTreatedAsMissing(t *testing.T) {
	r := NewResolver(config.IdentityConfig{CookieName: "anon_id"})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.AddCookie(&http.Cookie{Name: "anon_id", Value: ""})

	id := r.Resolve(rec, req)
	if id == "" {
		t.Fatal("expected a fresh id for a blank cookie")
	}
	if len(rec.Result().Cookies()) != 1 {
		t.Fatal("expected a replacement cookie")
	}
}
