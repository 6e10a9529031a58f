package httpapi

import (
	"net/http"
	"time"
)

// CookieConfig shapes the session cookie carrying the {sid, rt} pair.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:     "campus_session",
		Path:     "/api/auth",
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	}
}

func (cc CookieConfig) session(value string, expires time.Time, now time.Time) *http.Cookie {
	maxAge := int(expires.Sub(now).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	return &http.Cookie{
		Name:     cc.Name,
		Value:    value,
		Path:     cc.Path,
		Domain:   cc.Domain,
		MaxAge:   maxAge,
		Expires:  expires,
		Secure:   cc.Secure,
		HttpOnly: true,
		SameSite: cc.SameSite,
	}
}

func (cc CookieConfig) cleared() *http.Cookie {
	return &http.Cookie{
		Name:     cc.Name,
		Value:    "",
		Path:     cc.Path,
		Domain:   cc.Domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   cc.Secure,
		HttpOnly: true,
		SameSite: cc.SameSite,
	}
}
