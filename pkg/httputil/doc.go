// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteUnauthorized(w, "invalid email or password")
//	httputil.WriteErrorFields(w, http.StatusTooManyRequests, reason, map[string]interface{}{
//		"current_count": 5,
//	})
//
// # Request Parsing
//
// Request DTOs declare go-playground/validator tags; ParseJSONOrError writes
// a 400 naming the first failing field:
//
//	var req struct {
//		Email string `json:"email" validate:"required"`
//	}
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//
// # Token Cookies
//
//	cookies := httputil.CookieConfig{Secure: true, SameSite: http.SameSiteLaxMode}
//	cookies.SetTokenCookies(w, pair.AccessToken, pair.RefreshToken, accessTTL, refreshTTL)
//	cookies.ClearTokenCookies(w)
package httputil
