package middleware

import (
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// ExtractToken returns the bearer token from the Authorization header, or
// from the named cookie when the header carries none. The header wins when
// both are present.
func ExtractToken(r *http.Request, cookieName string) (string, bool) {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, bearerPrefix) {
		if token := strings.TrimSpace(header[len(bearerPrefix):]); token != "" {
			return token, true
		}
	}

	if cookieName == "" {
		return "", false
	}
	cookie, err := r.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
