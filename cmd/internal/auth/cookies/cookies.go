// Package cookies holds the cookie names and attributes shared by the gate,
// the auth handlers and the session manager.
package cookies

import (
	"net/http"
	"strings"
	"time"
)

const (
	AccessToken = "accessToken"
	UserID      = "userId"
	Session     = "sid"
	OAuthState  = "oauthState"
)

const (
	AccessTokenMaxAge = 7 * 24 * time.Hour
	UserIDMaxAge      = 24 * time.Hour
	OAuthStateMaxAge  = 10 * time.Minute
)

// Policy carries the attributes applied to every cookie the service sets.
type Policy struct {
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// DefaultPolicy is httpOnly-friendly and strict same-site; Secure follows
// the deployment.
func DefaultPolicy(secure bool) Policy {
	return Policy{
		Path:     "/",
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func (p Policy) path() string {
	if strings.TrimSpace(p.Path) == "" {
		return "/"
	}
	return p.Path
}

// Set writes an httpOnly cookie that lives for maxAge.
func (p Policy) Set(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	if w == nil || strings.TrimSpace(name) == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     p.path(),
		Domain:   p.Domain,
		MaxAge:   int(maxAge / time.Second),
		Expires:  time.Now().Add(maxAge).UTC(),
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	})
}

// Expire instructs the browser to drop the cookie.
func (p Policy) Expire(w http.ResponseWriter, name string) {
	if w == nil || strings.TrimSpace(name) == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     p.path(),
		Domain:   p.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	})
}

// Value returns the trimmed cookie value, or "" when absent.
func Value(r *http.Request, name string) string {
	if r == nil {
		return ""
	}
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}
