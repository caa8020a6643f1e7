// Package identity resolves the anonymous per-client identity carried
// by a long-lived cookie. The value is opaque; it partitions users
// without any login.
package identity

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/dotsetgreg/mindful/pkg/config"
)

// Resolver issues and reads the anonymous identity cookie.
type Resolver struct {
	cookieName string
	maxAge     int
	secure     bool
}

func NewResolver(cfg config.IdentityConfig) *Resolver {
	name := strings.TrimSpace(cfg.CookieName)
	if name == "" {
		name = "anon_id"
	}
	maxAge := cfg.CookieMaxAge
	if maxAge <= 0 {
		maxAge = 365 * 24 * 60 * 60
	}
	return &Resolver{
		cookieName: name,
		maxAge:     maxAge,
		secure:     cfg.CookieSecure,
	}
}

// Resolve returns the client's anonymous id. A request without the
// cookie gets a fresh id, and the issuing Set-Cookie is written to w.
// An existing cookie value is returned unchanged, never rotated.
func (r *Resolver) Resolve(w http.ResponseWriter, req *http.Request) string {
	if c, err := req.Cookie(r.cookieName); err == nil {
		if v := strings.TrimSpace(c.Value); v != "" {
			return v
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     r.cookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   r.maxAge,
		HttpOnly: true,
		Secure:   r.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
