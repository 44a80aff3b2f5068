// Package api exposes turnstile over HTTP.
//
// Routes under /api/auth are public except logout. /api/me and /api/usage
// need an access token, /api/admin needs the ADMIN role. Tokens are accepted
// from the Authorization header or the access_token cookie, and login and
// refresh set both cookies.
package api
