package auth

import (
	"net/http"
	"time"
)

// CookieConfig carries the attributes shared by every cookie the service sets.
type CookieConfig struct {
	Secure   bool
	Domain   string
	Path     string
	SameSite http.SameSite
}

// Build returns an http-only cookie. A zero maxAge produces a browser-session cookie.
func (c CookieConfig) Build(name, value string, maxAge time.Duration) *http.Cookie {
	cookie := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.path(),
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.sameSite(),
	}
	if maxAge > 0 {
		cookie.MaxAge = int(maxAge / time.Second)
	}
	return cookie
}

// Expire returns a cookie that instructs the client to drop name.
func (c CookieConfig) Expire(name string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     c.path(),
		Domain:   c.Domain,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: c.sameSite(),
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	}
}

func (c CookieConfig) path() string {
	if c.Path == "" {
		return "/"
	}
	return c.Path
}

func (c CookieConfig) sameSite() http.SameSite {
	if c.SameSite == 0 {
		return http.SameSiteLaxMode
	}
	return c.SameSite
}

func cookieValue(r *http.Request, name string) string {
	if r == nil {
		return ""
	}
	cookie, err := r.Cookie(name)
	if err != nil || cookie == nil {
		return ""
	}
	return cookie.Value
}
