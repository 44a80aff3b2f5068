package httputil

import (
	"mime"
	"net/http"
)

// ContentTypeMiddleware rejects POST/PUT/PATCH bodies that are not JSON.
// Requests without a body or without a Content-Type header pass, so
// cookie-driven calls like refresh and logout need no payload.
func ContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
			contentType := r.Header.Get("Content-Type")
			if r.ContentLength == 0 || contentType == "" {
				break
			}
			if mediaType, _, err := mime.ParseMediaType(contentType); err != nil || mediaType != "application/json" {
				WriteErrorMessage(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// MaxBytesMiddleware caps request bodies at maxBytes; <= 0 disables the cap
func MaxBytesMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
