package httputil

import (
	"net/http"
	"strings"
	"time"
)

const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// CookieConfig controls the attributes of token cookies
type CookieConfig struct {
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// ParseSameSite maps "lax", "strict" or "none" to http.SameSite. Anything
// else is Lax.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// SetCookie writes an HttpOnly cookie at path "/" living for ttl
func (c CookieConfig) SetCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, c.cookie(name, value, int(ttl/time.Second)))
}

// ClearCookie expires a cookie immediately (Max-Age=0)
func (c CookieConfig) ClearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, c.cookie(name, "", -1))
}

// SetTokenCookies writes the access and refresh cookies
func (c CookieConfig) SetTokenCookies(w http.ResponseWriter, access, refresh string, accessTTL, refreshTTL time.Duration) {
	c.SetCookie(w, AccessTokenCookie, access, accessTTL)
	c.SetCookie(w, RefreshTokenCookie, refresh, refreshTTL)
}

// ClearTokenCookies expires both token cookies
func (c CookieConfig) ClearTokenCookies(w http.ResponseWriter) {
	c.ClearCookie(w, AccessTokenCookie)
	c.ClearCookie(w, RefreshTokenCookie)
}

func (c CookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	sameSite := c.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteLaxMode
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: sameSite,
	}
}
